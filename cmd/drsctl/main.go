/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/projectbeskar/drsctl/internal/config"
	"github.com/projectbeskar/drsctl/internal/drs"
	"github.com/projectbeskar/drsctl/internal/obs/logging"
	"github.com/projectbeskar/drsctl/internal/obs/metrics"
	"github.com/projectbeskar/drsctl/internal/obs/tracing"
	"github.com/projectbeskar/drsctl/internal/providers/vsphere"
	"github.com/projectbeskar/drsctl/internal/resilience"
	"github.com/projectbeskar/drsctl/internal/version"
	"github.com/projectbeskar/drsctl/internal/watch"
)

// errFailed makes the process exit non-zero after a failed result was printed
var errFailed = errors.New("reconciliation failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(vsphere.NewConnector(), os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

type rootOptions struct {
	connector drs.Connector
	out       io.Writer

	logLevel  string
	logFormat string
	output    string
}

func newRootCmd(connector drs.Connector, out io.Writer) *cobra.Command {
	opts := &rootOptions{connector: connector, out: out}

	rootCmd := &cobra.Command{
		Use:           "drsctl",
		Short:         "Reconcile DRS affinity and anti-affinity rules",
		Long:          "Converges VM-VM affinity and anti-affinity rules of a vSphere cluster to a declared state",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := logging.DefaultConfig()
			if opts.logLevel != "" {
				cfg.Level = opts.logLevel
			}
			if opts.logFormat != "" {
				cfg.Format = opts.logFormat
			}
			return logging.Setup(cfg)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format (json|console)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "Output format (json|yaml)")

	rootCmd.AddCommand(
		newApplyCmd(opts),
		newFactsCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(opts),
	)
	return rootCmd
}

// ruleFlags binds the invocation parameters to command line flags
type ruleFlags struct {
	paramsFile   string
	params       drs.Params
	keepTogether bool
	validate     bool
	enabled      bool
	retries      int
}

func (f *ruleFlags) bind(cmd *cobra.Command, facts bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.paramsFile, "params", "", "YAML file with the invocation parameters")
	flags.StringVar(&f.params.Hostname, "hostname", "", "vCenter hostname")
	flags.IntVar(&f.params.Port, "port", drs.DefaultPort, "vCenter port")
	flags.StringVar(&f.params.Username, "username", "", "vCenter username")
	flags.StringVar(&f.params.Password, "password", "", "vCenter password (defaults to $DRSCTL_PASSWORD)")
	flags.BoolVar(&f.validate, "validate-certs", true, "Validate the vCenter certificate")
	flags.StringVar(&f.params.Datacenter, "datacenter", "", "Datacenter containing the cluster")
	flags.StringVar(&f.params.Cluster, "cluster", "", "Cluster name")
	flags.StringSliceVar(&f.params.Members, "members", nil, "Member VM names")
	flags.StringSliceVar(&f.params.VMs, "vms", nil, "Member VM names, alias of --members")
	flags.StringSliceVar(&f.params.Hosts, "hosts", nil, "Member VM names, alias of --members")
	flags.IntVar(&f.retries, "connect-retries", 1, "Connection attempts before giving up")

	if facts {
		flags.StringVar((*string)(&f.params.FactsSource), "source", "", "Where rules are read from (cluster|workload)")
		return
	}

	flags.StringVar(&f.params.Name, "name", "", "Rule name")
	flags.BoolVar(&f.keepTogether, "keep-together", false, "Create an affinity rule (false creates anti-affinity)")
	flags.StringVar((*string)(&f.params.State), "state", "", "Desired state (present|absent)")
	flags.BoolVar(&f.params.ForceUpdate, "force-update", false, "Recreate the rule even when it is converged")
	flags.BoolVar(&f.enabled, "enabled", true, "Create the rule enabled")
	flags.BoolVar(&f.params.Mandatory, "mandatory", false, "Create the rule as mandatory")
	flags.BoolVar(&f.params.AtomicUpdate, "atomic-update", false, "Replace the rule in a single reconfigure")
	flags.BoolVar(&f.params.CheckMode, "check", false, "Report what would change without changing it")
}

// resolve merges the parameters file, the flags set explicitly and the
// environment, in increasing order of precedence for flags
func (f *ruleFlags) resolve(cmd *cobra.Command) (drs.Params, error) {
	params := drs.Params{}
	if f.paramsFile != "" {
		data, err := os.ReadFile(f.paramsFile)
		if err != nil {
			return params, fmt.Errorf("failed to read params file: %w", err)
		}
		if err := yaml.Unmarshal(data, &params); err != nil {
			return params, fmt.Errorf("failed to parse params file: %w", err)
		}
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) || (f.paramsFile == "" && flags.Lookup(name) != nil) {
			apply()
		}
	}
	set("hostname", func() { params.Hostname = f.params.Hostname })
	set("port", func() { params.Port = f.params.Port })
	set("username", func() { params.Username = f.params.Username })
	set("password", func() { params.Password = f.params.Password })
	set("datacenter", func() { params.Datacenter = f.params.Datacenter })
	set("cluster", func() { params.Cluster = f.params.Cluster })
	set("members", func() { params.Members = f.params.Members })
	set("vms", func() { params.VMs = f.params.VMs })
	set("hosts", func() { params.Hosts = f.params.Hosts })
	set("source", func() { params.FactsSource = f.params.FactsSource })
	set("name", func() { params.Name = f.params.Name })
	set("state", func() { params.State = f.params.State })
	set("force-update", func() { params.ForceUpdate = f.params.ForceUpdate })
	set("mandatory", func() { params.Mandatory = f.params.Mandatory })
	set("atomic-update", func() { params.AtomicUpdate = f.params.AtomicUpdate })
	set("check", func() { params.CheckMode = f.params.CheckMode })
	set("validate-certs", func() { params.ValidateCerts = &f.validate })
	set("enabled", func() { params.Enabled = &f.enabled })
	if flags.Changed("keep-together") {
		params.KeepTogether = &f.keepTogether
	}

	if params.Password == "" {
		params.Password = os.Getenv("DRSCTL_PASSWORD")
	}
	return params, nil
}

func (f *ruleFlags) driver(connector drs.Connector) *drs.Driver {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = f.retries
	return drs.NewDriver(connector, drs.WithConnectRetry(retry))
}

func newApplyCmd(opts *rootOptions) *cobra.Command {
	f := &ruleFlags{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge one rule to the declared state",
		Example: `  drsctl apply --hostname vc.example.com --username admin --cluster prod \
    --name web-spread --members web-1,web-2 --keep-together=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			params.GatherFactsOnly = false
			return opts.print(f.driver(opts.connector).Run(cmd.Context(), params))
		},
	}
	f.bind(cmd, false)
	return cmd
}

func newFactsCmd(opts *rootOptions) *cobra.Command {
	f := &ruleFlags{}
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Report the affinity rules configured on a cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			params.GatherFactsOnly = true
			return opts.print(f.driver(opts.connector).Run(cmd.Context(), params))
		},
	}
	f.bind(cmd, true)
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a declared set of rules converged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "drsctl.yaml", "Configuration file")
	return cmd
}

func runWatch(ctx context.Context, opts *rootOptions, configFile string) error {
	manager, err := config.NewManager(configFile)
	if err != nil {
		return err
	}
	defer manager.Close() //nolint:errcheck // Watcher close on exit not critical

	cfg := manager.Get()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := cfg.LoggingConfig()
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		logCfg.Format = opts.logFormat
	}
	if err := logging.Setup(logCfg); err != nil {
		return err
	}

	shutdown, err := tracing.Setup(ctx, cfg.TracingConfig(version.Version))
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}
	defer shutdown()

	metrics.SetupMetrics(version.Version, version.GitSHA)

	w := watch.New(opts.connector, cfg)
	return w.Serve(ctx, cfg.Watch.MetricsAddr, manager.Watch())
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(opts.out, version.String())
		},
	}
}

// print writes result in the selected format and turns a failed result
// into errFailed
func (o *rootOptions) print(result *drs.Result) error {
	var (
		data []byte
		err  error
	)
	switch o.output {
	case "yaml":
		data, err = yaml.Marshal(result)
	case "json", "":
		data, err = json.MarshalIndent(result, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported output format %q", o.output)
	}
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if _, err := o.out.Write(data); err != nil {
		return err
	}
	if result.Failed {
		return errFailed
	}
	return nil
}
