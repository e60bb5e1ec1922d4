// Command ratemediator is a thin CLI shell over the facade: it exists to
// exercise status/monitor operations from a terminal, not to replace
// in-process use of the facade package.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ratemediator/pkg/credential"
	"ratemediator/pkg/facade"
	"ratemediator/pkg/ledger"
	"ratemediator/pkg/transport"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "status":
		runStatus(os.Args[2:])
	case "monitor":
		runMonitor(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ratemediator <status|monitor> [flags]")
}

func commonFlags(fs *flag.FlagSet) (provider, model, key *string, dailyBudget *float64) {
	provider = fs.String("provider", "openai", "LLM provider name")
	model = fs.String("model", "gpt-5", "model name")
	key = fs.String("key", "", "API key (omit to be prompted on the terminal)")
	dailyBudget = fs.Float64("daily-budget", 0, "daily spend cap in dollars (0 = unlimited)")
	return
}

func resolveKey(flagKey string) (string, error) {
	if flagKey != "" {
		return flagKey, nil
	}
	return readKeyFromTerminal()
}

func buildFacade(provider, model, key string, dailyBudget float64) (*facade.Facade, error) {
	tr := transport.NewHTTPTransport(30 * time.Second)
	return facade.New(ledger.BudgetSpec{Daily: dailyBudget}, tr, []facade.ModelConfig{
		{
			Provider: provider,
			Model:    model,
			Keys:     []string{key},
			Strategy: credential.Failover,
		},
	})
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	provider, model, key, dailyBudget := commonFlags(fs)
	_ = fs.Parse(args)

	apiKey, err := resolveKey(*key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ratemediator: reading API key:", err)
		os.Exit(1)
	}

	f, err := buildFacade(*provider, *model, apiKey, *dailyBudget)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ratemediator:", err)
		os.Exit(1)
	}

	snap := f.Metrics()
	fmt.Printf("total spend: $%.4f\n", snap.TotalSpend)
	for pair, states := range snap.CredentialsByPair {
		fmt.Printf("%s:\n", pair)
		for _, s := range states {
			fmt.Printf("  %s  requests=%d  tokens=%d  cooldownUntil=%s\n",
				credential.Fingerprint(s.Key), s.RequestsMade, s.TokensUsed, s.CooldownUntil.Format(time.RFC3339))
		}
	}
}

func runMonitor(args []string) {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	provider, model, key, dailyBudget := commonFlags(fs)
	interval := fs.Duration("interval", 30*time.Second, "polling interval")
	_ = fs.Parse(args)

	apiKey, err := resolveKey(*key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ratemediator: reading API key:", err)
		os.Exit(1)
	}

	f, err := buildFacade(*provider, *model, apiKey, *dailyBudget)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ratemediator:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := f.Metrics()
			fmt.Printf("[%s] total spend: $%.4f\n", time.Now().Format(time.RFC3339), snap.TotalSpend)
		}
	}
}
