package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/consentframework/expiryd/internal/consents"
)

// runConsent handles consent subcommands.
func runConsent(args []string) {
	if len(args) < 1 {
		printConsentUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	switch subcommand {
	case "get":
		runConsentGet(args[1:])
	case "put":
		runConsentPut(args[1:])
	case "help", "-h", "--help":
		printConsentUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown consent command: %s\n\n", subcommand)
		printConsentUsage()
		os.Exit(1)
	}
}

func printConsentUsage() {
	fmt.Println(`Usage: expiryd consent <command> [options]

Consent commands read and write consents in the metadata store directly.

Commands:
  get        Show a consent
  put        Create or update a consent

Run 'expiryd consent <command> --help' for more information.`)
}

func runConsentGet(args []string) {
	fs := flag.NewFlagSet("consent get", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Println(`Usage: expiryd consent get [options] <consent-id>

Show a consent. The id has the form <service>|<user>|<consent>.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	repo, cleanup, err := openConsentRepository(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := consentGet(ctx, repo, fs.Arg(0), *jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runConsentPut(args []string) {
	fs := flag.NewFlagSet("consent put", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	service := fs.String("service", "", "Owning service id")
	user := fs.String("user", "", "User id")
	consentID := fs.String("consent", "", "Per-user consent id")
	version := fs.Int64("version", 1, "New consent version (stored version + 1 for updates)")
	status := fs.String("status", string(consents.StatusActive), "Consent status (ACTIVE or EXPIRED)")
	expires := fs.String("expires", "", "Expiry time in RFC 3339 (empty for no expiry)")
	data := fs.String("data", "", "Comma-separated key=value consent data")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Println(`Usage: expiryd consent put [options]

Create or update a consent and its expiry index entry.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	c, err := buildConsent(*service, *user, *consentID, *version, *status, *expires, *data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	repo, cleanup, err := openConsentRepository(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stored, err := repo.PutConsent(ctx, c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := printConsent(os.Stdout, stored, *jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func openConsentRepository(configPath string) (*consents.Repository, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	newLogger(cfg)

	store, err := openMetaStore(context.Background(), cfg.Metadata)
	if err != nil {
		return nil, nil, err
	}
	repo := consents.NewRepository(store, consents.Config{PageSize: cfg.Sweep.PageSize})
	return repo, func() { _ = store.Close() }, nil
}

// buildConsent assembles a consent from command-line values.
func buildConsent(service, user, consentID string, version int64, status, expires, data string) (consents.Consent, error) {
	if service == "" || user == "" || consentID == "" {
		return consents.Consent{}, errors.New("-service, -user and -consent are required")
	}

	c := consents.Consent{
		ID:      consents.ConsentID(service, user, consentID),
		Version: version,
		Status:  consents.Status(strings.ToUpper(status)),
	}
	if c.Status != consents.StatusActive && c.Status != consents.StatusExpired {
		return consents.Consent{}, fmt.Errorf("invalid status %q", status)
	}

	if expires != "" {
		at, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return consents.Consent{}, fmt.Errorf("invalid -expires: %w", err)
		}
		c.ExpiryTime = &at
	}

	if data != "" {
		c.ConsentData = make(map[string]string)
		for _, pair := range strings.Split(data, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return consents.Consent{}, fmt.Errorf("invalid -data entry %q, expected key=value", pair)
			}
			c.ConsentData[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return c, nil
}

func consentGet(ctx context.Context, repo *consents.Repository, id string, jsonOutput bool, w io.Writer) error {
	c, found, err := repo.GetConsent(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("consent %q not found", id)
	}
	return printConsent(w, c, jsonOutput)
}

func printConsent(w io.Writer, c consents.Consent, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", c.ID)
	fmt.Fprintf(tw, "Version:\t%d\n", c.Version)
	fmt.Fprintf(tw, "Status:\t%s\n", c.Status)
	if c.ExpiryTime != nil {
		fmt.Fprintf(tw, "Expires:\t%s\n", c.ExpiryTime.UTC().Format(time.RFC3339))
		fmt.Fprintf(tw, "Expiry bucket:\t%s\n", c.ExpiryHour)
	}
	dataKeys := make([]string, 0, len(c.ConsentData))
	for k := range c.ConsentData {
		dataKeys = append(dataKeys, k)
	}
	sort.Strings(dataKeys)
	for _, k := range dataKeys {
		fmt.Fprintf(tw, "Data %s:\t%s\n", k, c.ConsentData[k])
	}
	return tw.Flush()
}

