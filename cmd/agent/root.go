package agent

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	cmdUtil "github.com/rackfleet/rackrpc/cmd/util"
	"github.com/rackfleet/rackrpc/lib/dbtasks"
	"github.com/rackfleet/rackrpc/rpc/common"
	"github.com/rackfleet/rackrpc/rpc/connpool"
	"github.com/rackfleet/rackrpc/rpc/regionclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	agentCmdConfig = &common.AgentConfig{}
	AgentCmd       = &cobra.Command{
		Use:     "agent",
		Short:   "Run the rack RPC agent",
		Long:    `Run the rack-side RPC agent: a connection pool toward every configured region event-loop, kept reconciled by the region client service, plus the serialized database task queue. The configuration can be set via command line flags or environment variables. The format of the environment variables is RACKRPC_<flag> (e.g. RACKRPC_POOL_MAX_CONNECTIONS=4)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	cmdUtil.SetupPoolFlags(AgentCmd)

	key := "eventloops"
	AgentCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of region event-loops to connect to. Format: NAME=ADDRESS; repeat a name to give an event-loop several addresses (e.g. region:pid=1=10.0.0.1:5250,region:pid=2=10.0.0.1:5251)"))

	key = "metrics-endpoint"
	AgentCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional address to expose Prometheus metrics on (e.g. 127.0.0.1:9090, empty to disable)"))

	key = "log-level"
	AgentCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the agent configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	eventloops, err := cmdUtil.ParseEventloops(viper.GetString("eventloops"))
	if err != nil {
		return err
	}

	agentCmdConfig.Eventloops = eventloops
	agentCmdConfig.Pool = cmdUtil.GetPoolConfig()
	agentCmdConfig.Socket = cmdUtil.GetSocketConf()
	agentCmdConfig.LogLevel = viper.GetString("log-level")

	return nil
}

// staticSource advertises the event-loop set from the command line, standing
// in for runtime discovery against the region API.
type staticSource struct {
	eventloops map[string][]string
}

func (s *staticSource) Eventloops(ctx context.Context) (map[string][]string, error) {
	return s.eventloops, nil
}

// run starts the agent and blocks until the process is signalled to stop
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(agentCmdConfig.LogLevel)

	fmt.Println("Starting rack RPC agent with configuration:")
	fmt.Println(agentCmdConfig.String())

	connector, err := cmdUtil.GetConnector()
	if err != nil {
		return err
	}
	pool, err := connpool.NewPool(connector, agentCmdConfig.Pool, agentCmdConfig.Socket)
	if err != nil {
		return err
	}
	defer pool.Close()

	client, err := regionclient.NewService(pool, regionclient.Config{
		Source: &staticSource{eventloops: agentCmdConfig.Eventloops},
	})
	if err != nil {
		return err
	}

	tasks := dbtasks.NewService()
	if err := tasks.Start(); err != nil {
		return err
	}
	if err := client.Start(); err != nil {
		_ = tasks.Stop()
		return err
	}

	if endpoint := viper.GetString("metrics-endpoint"); endpoint != "" {
		go serveMetrics(endpoint)
	}

	// block until SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	if err := client.Stop(); err != nil {
		return err
	}
	return tasks.Stop()
}

// serveMetrics exposes the process metrics in Prometheus text format
func serveMetrics(endpoint string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	if err := http.ListenAndServe(endpoint, mux); err != nil {
		fmt.Printf("metrics endpoint failed: %v\n", err)
	}
}
