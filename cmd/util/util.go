package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rackfleet/rackrpc/rpc/common"
	"github.com/rackfleet/rackrpc/rpc/transport"
	"github.com/rackfleet/rackrpc/rpc/transport/tcp"
	"github.com/rackfleet/rackrpc/rpc/transport/unix"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("rackrpc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupPoolFlags adds the connection pool and socket tuning flags shared by
// the agent and perf commands.
func SetupPoolFlags(cmd *cobra.Command) {
	key := "pool-max-idle-connections"
	cmd.PersistentFlags().Int(key, 1, WrapString("Number of connections to open eagerly per region event-loop"))

	key = "pool-max-connections"
	cmd.PersistentFlags().Int(key, 2, WrapString("Hard per-event-loop connection ceiling; the gap above the idle count is filled by scale-up under load"))

	key = "pool-keepalive"
	cmd.PersistentFlags().Duration(key, time.Second, WrapString("How long a scaled-up connection is kept before being reaped when idle"))

	key = "socket-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB, 0 for the OS default)"))

	key = "socket-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB, 0 for the OS default)"))

	key = "socket-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY on dialed connections"))

	key = "socket-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The TCP keepalive interval for dialed connections (in seconds, 0 to disable)"))

	key = "socket-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for dialed connections (in seconds)"))
}

// GetPoolConfig reads the pool configuration from viper
func GetPoolConfig() common.PoolConfig {
	return common.PoolConfig{
		MaxIdleConnections: viper.GetInt("pool-max-idle-connections"),
		MaxConnections:     viper.GetInt("pool-max-connections"),
		Keepalive:          viper.GetDuration("pool-keepalive"),
	}
}

// GetSocketConf reads the socket tuning configuration from viper
func GetSocketConf() common.SocketConf {
	return common.SocketConf{
		WriteBufferSize: viper.GetInt("socket-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("socket-read-buffer") * 1024,
		TCPNoDelay:      viper.GetBool("socket-tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("socket-tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("socket-tcp-linger"),
	}
}

// GetConnector creates the transport connector based on configuration
func GetConnector() (transport.IConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewConnector(), nil
	case "unix":
		return unix.NewConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// ParseEventloops parses a static event-loop advertisement of the form
// 'name=address,name=address,...'. Repeating a name adds another address for
// the same event-loop. Event-loop names routinely contain '=' themselves
// (e.g. 'region:pid=1'), so each entry splits at its last '=': everything
// before it is the name, the host:port after it is the address.
func ParseEventloops(spec string) (map[string][]string, error) {
	eventloops := make(map[string][]string)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		sep := strings.LastIndex(entry, "=")
		if sep < 0 {
			return nil, fmt.Errorf("invalid event-loop entry %q (expected NAME=ADDRESS)", entry)
		}
		name := strings.TrimSpace(entry[:sep])
		address := strings.TrimSpace(entry[sep+1:])
		if name == "" || address == "" {
			return nil, fmt.Errorf("invalid event-loop entry %q (expected NAME=ADDRESS)", entry)
		}
		eventloops[name] = append(eventloops[name], address)
	}
	if len(eventloops) == 0 {
		return nil, fmt.Errorf("no event-loops configured")
	}
	return eventloops, nil
}
