package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/DrewBradfordXYZ/quickbase-local/auth"
	"github.com/DrewBradfordXYZ/quickbase-local/client"
	"github.com/DrewBradfordXYZ/quickbase-local/config"
	"github.com/DrewBradfordXYZ/quickbase-local/core"
)

type generateOptions struct {
	configPath  string
	realm       string
	token       string
	baseURL     string
	appID       string
	appName     string
	appToken    string
	output      string
	format      string
	concurrency int
	merge       bool
	timeout     time.Duration
	debug       bool
}

func newGenerateCmd() *cobra.Command {
	opts := &generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build a mapping snapshot from live QuickBase apps",
		Long: `Reads every table of an app and every field of each table, and writes
{fieldMappings, tableMappings} keyed by names derived from the labels.
Field 3 is always "id"; system fields 1-5 keep their fixed names.

Examples:
  qbmappings generate --realm mycompany --app-id bqw123abc --app-name crm
  qbmappings generate --config quickbase.yaml -o quickbase-mappings.json
  qbmappings generate --app-id bqw123abc --app-name crm -o mappings.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "config file listing the apps to read")
	f.StringVarP(&opts.realm, "realm", "r", "", "QuickBase realm (default $"+config.EnvRealm+")")
	f.StringVarP(&opts.token, "token", "t", "", "user token (default $"+config.EnvUserToken+")")
	f.StringVar(&opts.baseURL, "base-url", "", "API base URL (default "+config.DefaultBaseURL+")")
	f.StringVarP(&opts.appID, "app-id", "a", "", "application id")
	f.StringVarP(&opts.appName, "app-name", "n", "", "name to file the app under (default: the app id)")
	f.StringVar(&opts.appToken, "app-token", "", "app token, if the app requires one")
	f.StringVarP(&opts.output, "output", "o", "", "output file (default: stdout)")
	f.StringVarP(&opts.format, "format", "f", "", "json or yaml (default: from the output extension, else json)")
	f.IntVar(&opts.concurrency, "concurrency", 4, "tables fetched in parallel")
	f.BoolVar(&opts.merge, "merge", true, "keep other apps already in the output file")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall timeout")
	f.BoolVar(&opts.debug, "debug", false, "log every request")
	return cmd
}

func runGenerate(cmd *cobra.Command, opts *generateOptions) error {
	cfg, err := opts.resolveConfig()
	if err != nil {
		return err
	}
	format, err := outputFormat(opts.output, opts.format)
	if err != nil {
		return err
	}

	logger := core.NewLoggerTo(cmd.ErrOrStderr(), opts.debug || cfg.Debug)
	tc, err := client.New(cfg.Realm, auth.NewUserTokenStrategy(cfg.UserToken),
		client.WithBaseURL(cfg.BaseURL),
		client.WithTimeout(cfg.Timeout()),
		client.WithLogger(logger),
		client.WithProactiveThrottle(100),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	var snapshot core.Mappings
	if opts.merge && opts.output != "" {
		if snapshot, err = loadExisting(opts.output); err != nil {
			return err
		}
	}

	d := &discoverer{api: tc, concurrency: opts.concurrency, logger: logger}
	stderr := cmd.ErrOrStderr()
	for _, app := range cfg.Apps {
		fmt.Fprintf(stderr, "Fetching mappings from %s/%s...\n", cfg.Realm, app.AppID)
		m, err := d.discover(ctx, app)
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "Found %d tables with %d fields in %s\n", len(m.Tables), m.fieldCount(), app.Name)
		merge(&snapshot, app.Name, m)
	}

	data, err := encodeMappings(snapshot, format)
	if err != nil {
		return err
	}
	if opts.output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.output, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", opts.output, err)
	}
	fmt.Fprintf(stderr, "Mappings written to %s\n", opts.output)
	return nil
}

// resolveConfig builds the connection settings and app list from --config,
// or from flags and the environment.
func (o *generateOptions) resolveConfig() (*config.Config, error) {
	var cfg *config.Config
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		cfg.ApplyEnv()
	}

	if o.realm != "" {
		cfg.Realm = o.realm
	}
	if o.token != "" {
		cfg.UserToken = o.token
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.appID != "" {
		name := o.appName
		if name == "" {
			name = o.appID
		}
		cfg.Apps = []config.App{{Name: name, AppID: o.appID, AppToken: o.appToken}}
	}

	if len(cfg.Apps) == 0 {
		return nil, errors.New("no apps to read: pass --app-id or --config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func outputFormat(output, format string) (string, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(output)) {
		case ".yaml", ".yml":
			format = "yaml"
		default:
			format = "json"
		}
	}
	switch format {
	case "json", "yaml":
		return format, nil
	default:
		return "", fmt.Errorf("unknown format %q (use 'json' or 'yaml')", format)
	}
}

func loadExisting(path string) (core.Mappings, error) {
	m, err := core.LoadMappingsFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return core.Mappings{}, nil
	}
	return m, err
}

func encodeMappings(m core.Mappings, format string) ([]byte, error) {
	if format == "yaml" {
		return yaml.Marshal(m)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
