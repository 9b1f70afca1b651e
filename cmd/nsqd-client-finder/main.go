package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sproutsocial/nsqd-client-finder/census"
)

// defaultLookupd is the production nsqlookupd queried if none is specified.
const defaultLookupd = "http://prod-nsq-lookup-useast1b-201:4161"

var (
	lookupdFlag     string
	timeoutFlag     time.Duration
	concurrencyFlag int
	topicFlag       string
	channelFlag     string
	formatFlag      string
	verbosityFlag   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nsqd-client-finder",
		Short: "Display nsqd connected client information",
		Long: `Queries an nsqlookupd for all the registered nsqd brokers, collects the
clients connected to each of them and prints which hosts use which auth identity.`,
		Args: cobra.NoArgs,
		Run:  runCensus,
	}
	rootCmd.Flags().StringVar(&lookupdFlag, "nsq-lookupd-address", defaultLookupd, "nsqlookupd address to query")
	rootCmd.Flags().DurationVar(&timeoutFlag, "timeout", census.DefaultTimeout, "Time allowance for each HTTP request")
	rootCmd.Flags().IntVar(&concurrencyFlag, "concurrency", 1, "Number of nsqd brokers to query simultaneously")
	rootCmd.Flags().StringVar(&topicFlag, "topic", "", "Only count clients subscribed to this topic")
	rootCmd.Flags().StringVar(&channelFlag, "channel", "", "Only count clients subscribed to this channel")
	rootCmd.Flags().StringVar(&formatFlag, "format", "json", "Output format of the report (json, table)")
	rootCmd.Flags().IntVar(&verbosityFlag, "verbosity", int(log.LvlInfo), "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=detail")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCensus(cmd *cobra.Command, args []string) {
	// Configure the logger to print everything requested onto stderr, keeping
	// stdout clean for the report
	usecolor := isatty.IsTerminal(os.Stderr.Fd())
	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(verbosityFlag), log.StreamHandler(os.Stderr, log.TerminalFormat(usecolor))))

	if formatFlag != "json" && formatFlag != "table" {
		log.Crit("Unsupported output format", "format", formatFlag)
	}
	// Configure the census and run it against the entire cluster
	collector, err := census.New(&census.Config{
		Lookupd:     lookupdFlag,
		Timeout:     timeoutFlag,
		Concurrency: concurrencyFlag,
		Topic:       topicFlag,
		Channel:     channelFlag,
	})
	if err != nil {
		log.Crit("Failed to configure client census", "err", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	summary, err := collector.Run(ctx)
	if err != nil {
		log.Crit("Failed to discover broker nodes", "err", err)
	}
	if err := summary.Err(); err != nil {
		log.Warn("Some brokers could not be inventoried", "err", err)
	}
	// Print the report, even if partial
	switch formatFlag {
	case "table":
		err = summary.Report.WriteTable(os.Stdout)
	default:
		err = summary.Report.WriteJSON(os.Stdout)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
