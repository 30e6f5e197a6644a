package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"solana-token-vesting/internal/amount"
	"solana-token-vesting/internal/api"
	"solana-token-vesting/internal/config"
	"solana-token-vesting/internal/custody"
	"solana-token-vesting/internal/feed"
	"solana-token-vesting/internal/solana"
)

const defaultServer = "http://localhost:8080"

// common holds flags shared by the networked commands.
type common struct {
	server  string
	keyPath string
}

func newFlagSet(name string, c *common, withKey bool) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	server := os.Getenv("VESTING_SERVER")
	if server == "" {
		server = defaultServer
	}
	fs.StringVar(&c.server, "server", server, "Vesting server base URL")
	if withKey {
		fs.StringVarP(&c.keyPath, "key", "k", os.Getenv("VESTING_KEYPAIR"), "Wallet keypair file (env: VESTING_KEYPAIR)")
	}
	return fs
}

func (c *common) client() (*api.Client, error) {
	if c.keyPath == "" {
		return api.NewClient(c.server), nil
	}
	key, err := readKeyFile(c.keyPath)
	if err != nil {
		return nil, err
	}
	return api.NewClient(c.server, api.WithSigningKey(key)), nil
}

func requireFlags(fs *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		if f := fs.Lookup(name); f == nil || f.Value.String() == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

// resolveAmount converts a human amount ("12.5") to base units using the
// mint's decimals, or parses base units directly when raw is set.
func resolveAmount(ctx context.Context, client *api.Client, mint, value string, raw bool) (uint64, uint8, error) {
	if raw {
		units, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("amount: %w", err)
		}
		return units, 0, nil
	}
	m, err := client.Mint(ctx, mint)
	if err != nil {
		return 0, 0, fmt.Errorf("look up mint: %w", err)
	}
	units, err := amount.Parse(value, m.Decimals)
	if err != nil {
		return 0, 0, err
	}
	return units, m.Decimals, nil
}

// parseTime accepts unix seconds, RFC 3339, or "now".
func parseTime(s string, now time.Time) (int64, error) {
	if s == "now" {
		return now.Unix(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("time %q: want unix seconds, RFC 3339 or \"now\"", s)
	}
	return t.Unix(), nil
}

// parseSpan accepts Go durations plus whole days ("30d") and weeks ("52w").
func parseSpan(s string) (time.Duration, error) {
	if n := len(s); n > 1 {
		unit := map[byte]time.Duration{'d': 24 * time.Hour, 'w': 7 * 24 * time.Hour}[s[n-1]]
		if unit != 0 {
			v, err := strconv.ParseInt(s[:n-1], 10, 64)
			if err != nil || v <= 0 {
				return 0, fmt.Errorf("duration %q", s)
			}
			if v > math.MaxInt64/int64(unit) {
				return 0, fmt.Errorf("duration %q is too long", s)
			}
			return time.Duration(v) * unit, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

func runKeygen(_ context.Context, args []string) error {
	var out string
	var force bool
	fs := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	fs.StringVarP(&out, "out", "o", "", "Keypair file to write")
	fs.BoolVar(&force, "force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "out"); err != nil {
		return err
	}

	key, err := generateKey()
	if err != nil {
		return err
	}
	if err := writeKeyFile(out, key, force); err != nil {
		return err
	}
	fmt.Println(walletOf(key))
	return nil
}

func runDerive(_ context.Context, args []string) error {
	var programID, mintArg, receiverArg, scope string
	fs := pflag.NewFlagSet("derive", pflag.ContinueOnError)
	fs.StringVar(&programID, "program-id", config.DefaultProgramID, "Vesting program id")
	fs.StringVar(&mintArg, "mint", "", "Mint address")
	fs.StringVar(&receiverArg, "receiver", "", "Receiver wallet (needed for record address and receiver scope)")
	fs.StringVar(&scope, "scope", string(custody.ScopeMint), "Custody scope: mint or receiver")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "mint"); err != nil {
		return err
	}

	program, err := solana.ParsePublicKey(programID)
	if err != nil {
		return fmt.Errorf("program id: %w", err)
	}
	mint, err := solana.ParsePublicKey(mintArg)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	var receiver solana.PublicKey
	if receiverArg != "" {
		if receiver, err = solana.ParsePublicKey(receiverArg); err != nil {
			return fmt.Errorf("receiver: %w", err)
		}
	} else if custody.Scope(scope) == custody.ScopeReceiver {
		return errors.New("--receiver is required for receiver scope")
	}

	deriver, err := custody.NewDeriver(program, custody.Scope(scope))
	if err != nil {
		return err
	}
	vault, err := deriver.Vault(mint, receiver)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "custody authority\t%s\n", vault.Address)
	fmt.Fprintf(w, "custody bump\t%d\n", vault.Bump)
	if receiverArg != "" {
		record, err := deriver.RecordAddress(receiver, mint)
		if err != nil {
			return err
		}
		ata, err := solana.FindAssociatedTokenAddress(receiver, mint)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "record address\t%s\n", record)
		fmt.Fprintf(w, "receiver token account\t%s\n", ata)
	}
	return w.Flush()
}

func runLock(ctx context.Context, args []string) error {
	var c common
	var receiver, mint, amountArg, start, end, duration, shape string
	var raw bool
	fs := newFlagSet("lock", &c, true)
	fs.StringVar(&receiver, "receiver", "", "Beneficiary wallet")
	fs.StringVar(&mint, "mint", "", "Mint address")
	fs.StringVar(&amountArg, "amount", "", "Amount in whole tokens (base units with --raw)")
	fs.BoolVar(&raw, "raw", false, "Treat --amount as base units")
	fs.StringVar(&start, "start", "now", "Start time: unix seconds, RFC 3339 or now")
	fs.StringVar(&end, "end", "", "End time (or use --duration)")
	fs.StringVar(&duration, "duration", "", "Schedule length, e.g. 52w, 90d, 720h")
	fs.StringVar(&shape, "shape", "", "STEPPED_WEEKLY or CONTINUOUS_LINEAR (server default if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "key", "receiver", "mint", "amount"); err != nil {
		return err
	}
	if (end == "") == (duration == "") {
		return errors.New("exactly one of --end or --duration is required")
	}

	now := time.Now()
	startTime, err := parseTime(start, now)
	if err != nil {
		return err
	}
	var endTime int64
	if end != "" {
		if endTime, err = parseTime(end, now); err != nil {
			return err
		}
	} else {
		span, err := parseSpan(duration)
		if err != nil {
			return err
		}
		endTime = startTime + int64(span/time.Second)
	}

	client, err := c.client()
	if err != nil {
		return err
	}
	units, decimals, err := resolveAmount(ctx, client, mint, amountArg, raw)
	if err != nil {
		return err
	}

	rec, err := client.Lock(ctx, api.LockRequest{
		Receiver:  receiver,
		Mint:      mint,
		Amount:    units,
		StartTime: startTime,
		EndTime:   endTime,
		Shape:     strings.ToUpper(shape),
	})
	if err != nil {
		return err
	}

	fmt.Printf("locked %s for %s\n", amount.Format(rec.TotalAmount, decimals), rec.Receiver)
	printRecord(rec, decimals)
	return nil
}

func runUnlock(ctx context.Context, args []string) error {
	var c common
	var receiver, mint string
	fs := newFlagSet("unlock", &c, true)
	fs.StringVar(&receiver, "receiver", "", "Beneficiary wallet (defaults to the key's wallet)")
	fs.StringVar(&mint, "mint", "", "Mint address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "key", "mint"); err != nil {
		return err
	}

	client, err := c.client()
	if err != nil {
		return err
	}
	if receiver == "" {
		key, err := readKeyFile(c.keyPath)
		if err != nil {
			return err
		}
		receiver = walletOf(key).String()
	}

	res, err := client.Unlock(ctx, receiver, mint)
	if err != nil {
		return err
	}
	decimals := mintDecimals(ctx, client, mint)
	fmt.Printf("released %s to %s (total released %s, remaining %s)\n",
		amount.Format(res.Released, decimals), res.Destination,
		amount.Format(res.ReleasedTotal, decimals), amount.Format(res.Remaining, decimals))
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	var c common
	var receiver, mint string
	fs := newFlagSet("status", &c, false)
	fs.StringVar(&receiver, "receiver", "", "Beneficiary wallet")
	fs.StringVar(&mint, "mint", "", "Only this mint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "receiver"); err != nil {
		return err
	}

	client, err := c.client()
	if err != nil {
		return err
	}

	if mint != "" {
		rec, err := client.Record(ctx, receiver, mint)
		if err != nil {
			return err
		}
		printRecord(rec, mintDecimals(ctx, client, mint))
		return nil
	}

	recs, err := client.RecordsByReceiver(ctx, receiver)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no vesting records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MINT\tSHAPE\tRELEASED\tTOTAL\tSTART\tEND")
	for _, rec := range recs {
		d := mintDecimals(ctx, client, rec.Mint)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", rec.Mint, rec.Shape,
			amount.Format(rec.ReleasedAmount, d), amount.Format(rec.TotalAmount, d),
			formatUnix(rec.StartTime), formatUnix(rec.EndTime))
	}
	return w.Flush()
}

func runPreview(ctx context.Context, args []string) error {
	var c common
	var receiver, mint string
	fs := newFlagSet("preview", &c, false)
	fs.StringVar(&receiver, "receiver", "", "Beneficiary wallet")
	fs.StringVar(&mint, "mint", "", "Mint address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "receiver", "mint"); err != nil {
		return err
	}

	client, err := c.client()
	if err != nil {
		return err
	}
	p, err := client.Preview(ctx, receiver, mint)
	if err != nil {
		return err
	}

	d := mintDecimals(ctx, client, mint)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "status\t%s\n", p.Status)
	fmt.Fprintf(w, "as of\t%s\n", formatUnix(p.At))
	fmt.Fprintf(w, "entitled\t%s\n", amount.Format(p.Entitled, d))
	fmt.Fprintf(w, "released\t%s\n", amount.Format(p.Record.ReleasedAmount, d))
	fmt.Fprintf(w, "releasable now\t%s\n", amount.Format(p.Releasable, d))
	if p.NextReleaseAt != 0 {
		fmt.Fprintf(w, "next release\t%s\n", formatUnix(p.NextReleaseAt))
	}
	return w.Flush()
}

func runWatch(ctx context.Context, args []string) error {
	var c common
	var receiver, mint string
	fs := newFlagSet("watch", &c, false)
	fs.StringVar(&receiver, "receiver", "", "Only events of this receiver")
	fs.StringVar(&mint, "mint", "", "Only events of this mint")
	if err := fs.Parse(args); err != nil {
		return err
	}

	endpoint, err := feed.EndpointURL(c.server, feed.Filter{Receiver: receiver, Mint: mint})
	if err != nil {
		return err
	}
	sub, err := feed.Dial(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer sub.Close()

	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", endpoint)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			fmt.Printf("%s %-7s receiver=%s mint=%s amount=%d released=%d/%d signer=%s\n",
				formatUnix(ev.Timestamp), ev.Type, ev.Receiver, ev.Mint,
				ev.Amount, ev.ReleasedAmount, ev.TotalAmount, ev.Signer)
		}
	}
}

func runDevMint(ctx context.Context, args []string) error {
	var c common
	var mintKeyPath, mintArg, to, amountArg string
	var decimals uint8
	fs := newFlagSet("dev-mint", &c, true)
	fs.StringVar(&mintKeyPath, "mint-key", "", "Write a new mint keypair here and create the mint")
	fs.StringVar(&mintArg, "mint", "", "Existing mint address (instead of --mint-key)")
	fs.Uint8Var(&decimals, "decimals", 9, "Decimals for a new mint")
	fs.StringVar(&to, "to", "", "Owner wallet to issue tokens to (defaults to the key's wallet)")
	fs.StringVar(&amountArg, "amount", "", "Amount in whole tokens to issue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "key"); err != nil {
		return err
	}
	if (mintKeyPath == "") == (mintArg == "") {
		return errors.New("exactly one of --mint-key or --mint is required")
	}

	key, err := readKeyFile(c.keyPath)
	if err != nil {
		return err
	}
	client := api.NewClient(c.server, api.WithSigningKey(key))

	if mintKeyPath != "" {
		mintKey, err := generateKey()
		if err != nil {
			return err
		}
		if err := writeKeyFile(mintKeyPath, mintKey, false); err != nil {
			return err
		}
		m, err := client.CreateMint(ctx, walletOf(mintKey).String(), decimals)
		if err != nil {
			return err
		}
		mintArg = m.Address
		fmt.Printf("created mint %s (decimals %d, authority %s)\n", m.Address, m.Decimals, m.MintAuthority)
	}

	if amountArg == "" {
		return nil
	}
	if to == "" {
		to = walletOf(key).String()
	}
	units, d, err := resolveAmount(ctx, client, mintArg, amountArg, false)
	if err != nil {
		return err
	}
	acc, err := client.MintTo(ctx, mintArg, to, units)
	if err != nil {
		return err
	}
	fmt.Printf("issued %s to %s (account %s, balance %s)\n",
		amount.Format(units, d), to, acc.Address, amount.Format(acc.Amount, d))
	return nil
}

// mintDecimals returns the mint's decimals, or 0 if it cannot be fetched so
// amounts print in base units.
func mintDecimals(ctx context.Context, client *api.Client, mint string) uint8 {
	m, err := client.Mint(ctx, mint)
	if err != nil {
		return 0
	}
	return m.Decimals
}

func printRecord(rec *api.Record, decimals uint8) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "record\t%s\n", rec.Address)
	fmt.Fprintf(w, "receiver\t%s\n", rec.Receiver)
	fmt.Fprintf(w, "mint\t%s\n", rec.Mint)
	fmt.Fprintf(w, "depositor\t%s\n", rec.Depositor)
	fmt.Fprintf(w, "custody\t%s\n", rec.Custody)
	fmt.Fprintf(w, "shape\t%s\n", rec.Shape)
	fmt.Fprintf(w, "released\t%s / %s\n", amount.Format(rec.ReleasedAmount, decimals), amount.Format(rec.TotalAmount, decimals))
	fmt.Fprintf(w, "schedule\t%s .. %s\n", formatUnix(rec.StartTime), formatUnix(rec.EndTime))
	w.Flush()
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
