package perf

import (
	"fmt"
	"net/netip"
	"net/url"
	"sort"
	"time"

	cmdUtil "github.com/rackfleet/rackrpc/cmd/util"
	"github.com/rackfleet/rackrpc/rpc/codec"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Measure wire codec throughput",
		Long:    `Encode and decode representative values through every wire argument codec and report per-codec latency and throughput.`,
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfIterations = 100_000
	perfValueSize  = 1
)

// perfRecord is the sample record used for the record codec measurements.
type perfRecord struct {
	Hostname string `json:"hostname"`
	Cores    int    `json:"cores"`
}

func (perfRecord) RecordTag() string { return "rackrpc.perf.Machine" }

func init() {
	codec.RegisterRecord("rackrpc.perf.Machine", func() codec.Record { return &perfRecord{} })

	// add flags
	key := "iterations"
	PerfCmd.PersistentFlags().Int(key, 100_000, cmdUtil.WrapString("Encode/decode round trips to run per codec"))
	key = "value-size"
	PerfCmd.PersistentFlags().Int(key, 1, cmdUtil.WrapString("Size of the raw byte payloads (in KB)"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	perfIterations = viper.GetInt("iterations")
	perfValueSize = viper.GetInt("value-size")

	return nil
}

// sample is one codec under measurement together with an in-domain value.
type sample struct {
	name  string
	codec codec.ICodec
	value any
}

func buildSamples() ([]sample, error) {
	choice, err := codec.NewChoice(map[string][]byte{
		"on":  {'1'},
		"off": {'0'},
	})
	if err != nil {
		return nil, err
	}

	recordList, err := codec.NewRecordList([]codec.RecordListField{
		{Name: "name", Codec: codec.NewBytes()},
		{Name: "enabled", Codec: choice},
	})
	if err != nil {
		return nil, err
	}

	parsedURL, err := url.Parse("http://region.example:5240/rpc/api")
	if err != nil {
		return nil, err
	}

	return []sample{
		{"bytes", codec.NewBytes(), make([]byte, perfValueSize*1024)},
		{"choice", choice, "on"},
		{"structure", codec.NewStructureAsJSON(), map[string]any{
			"hostname": "rack-1",
			"zones":    []any{"default", "dmz"},
		}},
		{"record", codec.NewRecord(), &perfRecord{Hostname: "rack-1", Cores: 16}},
		{"parsed-url", codec.NewParsedURL(), parsedURL},
		{"ip-address", codec.NewIPAddress(), netip.MustParseAddr("2001:db8::17")},
		{"ip-network", codec.NewIPNetwork(), netip.MustParsePrefix("10.20.0.0/16")},
		{"record-list", recordList, []map[string]any{
			{"name": []byte("eth0"), "enabled": "on"},
			{"name": []byte("eth1"), "enabled": "off"},
		}},
	}, nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Wire codec throughput measurement")
	fmt.Printf("Iterations per codec: %d\n\n", perfIterations)

	samples, err := buildSamples()
	if err != nil {
		return err
	}

	registry := gometrics.NewRegistry()
	for _, s := range samples {
		encTimer := gometrics.NewRegisteredTimer(s.name+".encode", registry)
		decTimer := gometrics.NewRegisteredTimer(s.name+".decode", registry)

		for i := 0; i < perfIterations; i++ {
			var wire []byte
			encTimer.Time(func() {
				var encErr error
				wire, encErr = s.codec.Encode(s.value)
				if encErr != nil {
					err = fmt.Errorf("%s: encode failed: %w", s.name, encErr)
				}
			})
			if err != nil {
				return err
			}

			decTimer.Time(func() {
				if _, decErr := s.codec.Decode(wire); decErr != nil {
					err = fmt.Errorf("%s: decode failed: %w", s.name, decErr)
				}
			})
			if err != nil {
				return err
			}
		}
	}

	printResults(registry)
	return nil
}

// printResults dumps every timer in the registry, sorted by name
func printResults(registry gometrics.Registry) {
	type row struct {
		name  string
		timer gometrics.Timer
	}
	var rows []row
	registry.Each(func(name string, metric interface{}) {
		if timer, ok := metric.(gometrics.Timer); ok {
			rows = append(rows, row{name: name, timer: timer})
		}
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	fmt.Printf("%-24s%-14s%-14s%s\n", "codec", "mean", "p95", "ops/sec")
	for _, r := range rows {
		mean := time.Duration(r.timer.Mean())
		p95 := time.Duration(r.timer.Percentile(0.95))
		fmt.Printf("%-24s%-14s%-14s%.0f\n", r.name, mean, p95, r.timer.RateMean())
	}
}
