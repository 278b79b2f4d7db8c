package cmd

import (
	"bufio"
	goflag "flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hillu/suricata-sub000/cfg"
	"github.com/hillu/suricata-sub000/cmd/internal/cmderr"
	"github.com/hillu/suricata-sub000/internal/alertlog"
	"github.com/hillu/suricata-sub000/internal/detect"
	"github.com/hillu/suricata-sub000/internal/engine"
	"github.com/hillu/suricata-sub000/internal/flow"
	"github.com/hillu/suricata-sub000/internal/flowvar"
	"github.com/hillu/suricata-sub000/internal/ruleparser"
	"github.com/hillu/suricata-sub000/pcap"
	"github.com/hillu/suricata-sub000/printer"
	"github.com/hillu/suricata-sub000/util"
	"github.com/hillu/suricata-sub000/version"
)

var debugFlag bool

var (
	ifaceFlag     string
	bpfFilterFlag string
	rulesFlag     string
	alertLogFlag  string
	hostnameFlag  string
)

var rootCmd = &cobra.Command{
	Use:           "streamids",
	Short:         "TCP reassembly and HTTP signature-matching intrusion detection engine.",
	Version:       version.CLIDisplayString(),
	SilenceErrors: true, // We print our own errors from subcommands in Execute function
	// Don't print usage after error, we only print help if we cannot parse
	// flags. See init function below.
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture from an interface and match traffic against a ruleset.",
	RunE:  runRun,
}

func Execute() {
	if cmd, err := rootCmd.ExecuteC(); err != nil {
		if _, isAkitaErr := err.(cmderr.AkitaErr); !isAkitaErr {
			// Print usage for CLI usage errors (e.g. missing arg) but not for
			// errors reported while running.
			cmd.Println(cmd.UsageString())
		}

		exitCode := 1
		var exitErr util.ExitError
		if isExitErr := errors.As(err, &exitErr); isExitErr {
			exitCode = exitErr.ExitCode
		}
		printer.Stderr.Errorf("%s\n", err)
		os.Exit(exitCode)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "If set, outputs detailed information for debugging.")
	rootCmd.PersistentFlags().MarkHidden("debug")
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	runCmd.Flags().StringVar(&ifaceFlag, "interface", "", "Network interface to capture from (required)")
	runCmd.Flags().StringVar(&bpfFilterFlag, "bpf-filter", "", "Capture filter string (default from config's bpf-filter key)")
	runCmd.Flags().StringVar(&rulesFlag, "rules", "", "Path to a Snort-compatible rule file, one signature per line (required)")
	runCmd.Flags().StringVar(&alertLogFlag, "alert-log", "-", `Path to write alert log lines to, or "-" for stdout`)
	runCmd.Flags().StringVar(&hostnameFlag, "hostname", "", "Hostname recorded in alert log lines (default from os.Hostname)")
	runCmd.MarkFlagRequired("interface")
	runCmd.MarkFlagRequired("rules")
	rootCmd.AddCommand(runCmd)

	// Include flags from go libraries that we're using. We hand-pick the flags
	// to include to avoid polluting the flag set of the CLI.
	goflag.CommandLine.VisitAll(func(f *goflag.Flag) {
		includeFlag := false
		switch f.Name {
		case "alsologtostderr", "log_dir", "logtostderr", "v":
			// Select glog flags to include.
			includeFlag = true
		}
		if includeFlag {
			flag.CommandLine.AddGoFlag(f)
			flag.CommandLine.MarkHidden(f.Name)
		}
	})

	// Handle custom glog flag setup.
	{
		// Call Parse with empty args so the go flag library thinks it has parsed
		// the flags, when in reality only the selected flags will get parsed by
		// pflag/cobra. This is needed for the glog library to stop complaining
		// that flags have not been parsed.
		goflag.CommandLine.Parse(nil)

		// Disable glog logging to file so the binary doesn't create log files
		// in the user's temp directory.
		flag.CommandLine.Set("logtostderr", "true")

		// Share verbose logging flag with glog.
		viper.BindPFlag("verbose-level", flag.CommandLine.Lookup("v"))
	}
}

// loadSignatures parses one signature per non-blank, non-comment line of
// path (spec.md §6's Snort-compatible rule grammar, via internal/ruleparser).
func loadSignatures(path string) ([]*detect.Signature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open rules file %s", path)
	}
	defer f.Close()

	var sigs []*detect.Signature
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sig, err := ruleparser.Parse(line)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse rule: %s", line)
		}
		sig.Compile()
		sigs = append(sigs, sig)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read rules file %s", path)
	}
	return sigs, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	sigs, err := loadSignatures(rulesFlag)
	if err != nil {
		return cmderr.AkitaErr{Err: errors.Wrap(err, "failed to load rules")}
	}
	printer.Infof("loaded %d signatures from %s\n", len(sigs), rulesFlag)

	alertOut := os.Stdout
	if alertLogFlag != "-" {
		f, err := os.OpenFile(alertLogFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return cmderr.AkitaErr{Err: errors.Wrapf(err, "failed to open alert log %s", alertLogFlag)}
		}
		defer f.Close()
		alertOut = f
	}

	hostname := hostnameFlag
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}

	bpfFilter := bpfFilterFlag
	if bpfFilter == "" {
		bpfFilter = cfg.BPFFilter()
	}

	eng := detect.NewEngine(sigs, nil)
	flows := flow.NewTable(65536, flow.DefaultTimeouts())
	flowVars := flowvar.NewFlowStore(30*time.Minute, 5*time.Minute)
	pipe := engine.NewPipeline(flows, cfg.StreamConfig(), eng, flowVars, hostname, func(e alertlog.Entry) {
		if err := alertlog.Write(alertOut, e); err != nil {
			printer.Stderr.Errorf("failed to write alert log entry: %v\n", err)
		}
	})
	pipe.MaxSessions = cfg.MaxSessions()

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		printer.Infof("shutting down\n")
		pipe.Stop()
		close(stop)
	}()

	if err := pcap.Run(stop, ifaceFlag, bpfFilter, pipe); err != nil {
		return cmderr.AkitaErr{Err: errors.Wrap(err, "capture failed")}
	}
	return nil
}
