package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	odata "github.com/nlstn/go-odata-persist"
	"github.com/nlstn/go-odata-persist/internal/persistence"
	"github.com/nlstn/go-odata-persist/internal/testmodel"
	"github.com/nlstn/go-odata-persist/internal/uri"
)

// envPrefix prefixes the environment variables read by odata.LoadServiceConfig.
const envPrefix = "ODATA_"

type flags struct {
	dialect  string
	dsn      string
	baseURI  string
	locale   string
	pageSize int
	demo     bool
	timing   bool
	verbose  bool
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "odataquery [flags] <path[?query]>",
		Short: "Run an OData request against the demo model",
		Long: `Resolve, validate and execute one OData V2 request against a database
holding the demo model (Employees, Rooms, Buildings, Teams) and print the
projected result as JSON.

Service configuration is read from ODATA_* environment variables, e.g.
ODATA_NAMESPACE or ODATA_MAX_TOP. Flags override the environment.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args[0])
		},
	}

	cmd.Flags().StringVar(&f.dialect, "dialect", "sqlite", "database dialect: sqlite, postgres or mysql")
	cmd.Flags().StringVar(&f.dsn, "dsn", "file::memory:?cache=shared", "database connection string")
	cmd.Flags().StringVar(&f.baseURI, "base-uri", "", "service root used for entity URIs")
	cmd.Flags().StringVar(&f.locale, "locale", "", "Accept-Language value for error messages")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "server-driven page size (overrides ODATA_PAGE_SIZE)")
	cmd.Flags().BoolVar(&f.demo, "demo", false, "migrate the schema and insert the demo data first")
	cmd.Flags().BoolVar(&f.timing, "timing", false, "print the Server-Timing header to stderr")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log debug output to stderr")
	return cmd
}

func run(cmd *cobra.Command, f flags, target string) error {
	ctx := cmd.Context()
	stderr := cmd.ErrOrStderr()

	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := odata.LoadServiceConfig(envPrefix)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("page-size") {
		cfg.PageSize = f.pageSize
	}

	db, err := persistence.Open(f.dialect, f.dsn, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if f.demo {
		if err := db.AutoMigrate(testmodel.Models()...); err != nil {
			return fmt.Errorf("failed to migrate demo schema: %w", err)
		}
		if err := testmodel.Seed(db); err != nil {
			return fmt.Errorf("failed to insert demo data: %w", err)
		}
	}

	service, err := odata.NewServiceWithConfig(db, cfg)
	if err != nil {
		return err
	}
	if err := service.SetLogger(log); err != nil {
		return err
	}
	for _, m := range testmodel.Models() {
		if err := service.RegisterEntity(m); err != nil {
			return err
		}
	}
	if err := service.SetObservability(odata.ObservabilityConfig{
		ServiceName:        "odataquery",
		EnableServerTiming: f.timing,
	}); err != nil {
		return err
	}
	if err := service.Validate(); err != nil {
		return err
	}

	var timing fmt.Stringer
	if f.timing {
		ctx, timing = odata.WithServerTiming(ctx)
	}

	req, err := parseTarget(target)
	if err != nil {
		return err
	}
	req.BaseURI = f.baseURI
	req.Locale = f.locale

	result, err := service.Process(ctx, req)
	if err != nil {
		if f.locale != "" {
			return fmt.Errorf("%s error: %s", odata.ErrorKind(err), odata.LocalizedMessage(err, f.locale))
		}
		return fmt.Errorf("%s error: %w", odata.ErrorKind(err), err)
	}
	if timing != nil {
		fmt.Fprintf(stderr, "Server-Timing: %s\n", timing)
	}
	return write(cmd.OutOrStdout(), result)
}

// output is the printed form of a result. Schema objects are reduced to
// their names because the type graph is cyclic.
type output struct {
	Kind          string            `json:"kind"`
	EntitySet     string            `json:"entitySet,omitempty"`
	Entries       []*odata.Entry    `json:"results,omitempty"`
	Entry         *odata.Entry      `json:"entry,omitempty"`
	NotFound      bool              `json:"notFound,omitempty"`
	Count         *int64            `json:"count,omitempty"`
	InlineCount   *int64            `json:"__count,omitempty"`
	NextSkipToken string            `json:"__next,omitempty"`
	Value         any               `json:"value,omitempty"`
	Links         []string          `json:"links,omitempty"`
	Container     string            `json:"container,omitempty"`
	EntitySets    []string          `json:"entitySets,omitempty"`
	Functions     []string          `json:"functionImports,omitempty"`
	CustomOptions map[string]string `json:"customOptions,omitempty"`
}

func write(w io.Writer, r *odata.Result) error {
	out := output{
		Kind:          r.Kind.String(),
		EntitySet:     r.EntitySet,
		Entries:       r.Entries,
		Entry:         r.Entry,
		NotFound:      r.NotFound,
		Count:         r.Count,
		InlineCount:   r.InlineCount,
		NextSkipToken: r.NextSkipToken,
		Value:         r.Value,
		Links:         r.Links,
		CustomOptions: r.CustomOptions,
	}
	if c := r.Container; c != nil {
		out.Container = c.Name
		for _, set := range c.EntitySets {
			out.EntitySets = append(out.EntitySets, set.Name)
		}
		for _, fi := range c.FunctionImports {
			out.Functions = append(out.Functions, fi.Name)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// parseTarget splits a request target such as "Employees('1')/Room?$expand=Building"
// into its unescaped path segments and query options.
func parseTarget(target string) (odata.Request, error) {
	path, rawQuery, _ := strings.Cut(target, "?")
	path, err := url.PathUnescape(strings.Trim(path, "/"))
	if err != nil {
		return odata.Request{}, fmt.Errorf("invalid path %q: %w", target, err)
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return odata.Request{}, fmt.Errorf("invalid query %q: %w", rawQuery, err)
	}
	return odata.Request{Segments: uri.SplitPath(path), Query: values}, nil
}
