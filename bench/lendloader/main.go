package main

import (
	"context"
	"flag"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"vaultlend/core/lending"
	"vaultlend/crypto"
	"vaultlend/sdk/lend"
)

const (
	defaultDuration   = 2 * time.Minute
	defaultRate       = 600 // operations per minute
	defaultPrincipals = 8

	amountUnit = 1_000_000 // wei base for generated amounts
)

// latencyTracker measures the delay between an accepted operation and
// its event becoming visible on the stream.
type latencyTracker struct {
	mu        sync.Mutex
	pending   map[string]time.Time
	latencies []time.Duration
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{pending: make(map[string]time.Time)}
}

func (lt *latencyTracker) track(key string, at time.Time) {
	lt.mu.Lock()
	lt.pending[key] = at
	lt.mu.Unlock()
}

func (lt *latencyTracker) observe(key string, at time.Time) {
	lt.mu.Lock()
	start, ok := lt.pending[key]
	if ok {
		lt.latencies = append(lt.latencies, at.Sub(start))
		delete(lt.pending, key)
	}
	lt.mu.Unlock()
}

func (lt *latencyTracker) snapshot() (latencies []time.Duration, pending int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	latencies = append([]time.Duration(nil), lt.latencies...)
	pending = len(lt.pending)
	return latencies, pending
}

func (lt *latencyTracker) waitForEmpty(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		lt.mu.Lock()
		remaining := len(lt.pending)
		lt.mu.Unlock()
		if remaining == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// eventKey identifies one submitted operation on the stream. Generated
// amounts are unique per submission, so kind plus amount is collision
// free.
func eventKey(kind, amount string) string {
	return kind + "|" + amount
}

func main() {
	var (
		rpcURL       string
		opRate       int
		durationFlag time.Duration
		principals   int
	)
	flag.StringVar(&rpcURL, "rpc", "http://localhost:7101", "node RPC endpoint")
	flag.IntVar(&opRate, "rate", defaultRate, "target lending operations per minute")
	flag.DurationVar(&durationFlag, "duration", defaultDuration, "load duration")
	flag.IntVar(&principals, "principals", defaultPrincipals, "number of synthetic principals to cycle through")
	flag.Parse()

	token := strings.TrimSpace(os.Getenv("VAULTLEND_RPC_TOKEN"))
	if token == "" {
		log.Fatal("missing VAULTLEND_RPC_TOKEN for RPC authentication")
	}
	if opRate <= 0 {
		log.Fatalf("rate must be positive, got %d", opRate)
	}
	if principals <= 0 {
		log.Fatalf("principals must be positive, got %d", principals)
	}
	if durationFlag <= 0 {
		durationFlag = defaultDuration
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := lend.New(rpcURL, lend.WithAuthToken(token))
	if err != nil {
		log.Fatalf("build client: %v", err)
	}

	tracker := newLatencyTracker()

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	sub, err := client.SubscribeEvents(subCtx, 0)
	if err != nil {
		log.Fatalf("connect event stream: %v", err)
	}
	defer sub.Close()
	go consumeEvents(subCtx, sub, tracker)

	addrs := loaderPrincipals(principals)
	interval := time.Minute / time.Duration(opRate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	deadline := time.Now().Add(durationFlag)
	var seq uint64
	var submitted int
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			log.Printf("context cancelled: %v", ctx.Err())
			return
		default:
		}
		kind, amount, err := submitLendingOp(ctx, client, addrs, seq)
		if err != nil {
			log.Printf("submit op %d failed: %v", seq, err)
		} else {
			tracker.track(eventKey(kind, amount.String()), time.Now())
			submitted++
		}
		seq++
		time.Sleep(interval)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if !tracker.waitForEmpty(waitCtx) {
		_, pending := tracker.snapshot()
		log.Printf("still waiting on %d stream events", pending)
	}

	subCancel()

	latencies, pending := tracker.snapshot()
	reportLoadSummary(latencies, pending, submitted)
}

// submitLendingOp walks each principal through a deposit, borrow,
// repay, withdraw cycle. The deposit is five times the borrow so the
// position stays comfortably above the minimum collateral ratio, and
// every amount embeds the cycle number so each operation maps to
// exactly one stream event.
func submitLendingOp(ctx context.Context, client *lend.Client, addrs []string, seq uint64) (string, *big.Int, error) {
	cycle := seq / 4
	from := addrs[int(cycle)%len(addrs)]
	unit := new(big.Int).SetUint64(amountUnit + cycle)

	switch seq % 4 {
	case 0:
		amount := new(big.Int).Mul(unit, big.NewInt(5))
		_, err := client.Deposit(ctx, from, amount)
		return string(lending.EventDeposit), amount, err
	case 1:
		amount := new(big.Int).Set(unit)
		_, err := client.Borrow(ctx, from, amount)
		return string(lending.EventBorrow), amount, err
	case 2:
		amount := new(big.Int).Set(unit)
		_, err := client.Repay(ctx, from, amount)
		return string(lending.EventRepay), amount, err
	default:
		amount := new(big.Int).Mul(unit, big.NewInt(2))
		_, err := client.Withdraw(ctx, from, amount)
		return string(lending.EventWithdraw), amount, err
	}
}

func consumeEvents(ctx context.Context, sub *lend.EventSubscription, tracker *latencyTracker) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil && ctx.Err() == nil {
					log.Printf("event stream closed: %v", err)
				}
				return
			}
			if evt.Amount == nil {
				continue
			}
			tracker.observe(eventKey(string(evt.Kind), evt.Amount.String()), time.Now())
		}
	}
}

// loaderPrincipals derives deterministic addresses so repeat runs
// against the same node reuse their positions.
func loaderPrincipals(n int) []string {
	addrs := make([]string, n)
	for i := range addrs {
		raw := make([]byte, crypto.AddressLength)
		raw[0] = 0x1d
		raw[len(raw)-2] = byte((i + 1) >> 8)
		raw[len(raw)-1] = byte(i + 1)
		addrs[i] = crypto.NewAddress(raw).String()
	}
	return addrs
}

func reportLoadSummary(latencies []time.Duration, pending int, submitted int) {
	var max time.Duration
	var total time.Duration
	for _, latency := range latencies {
		if latency > max {
			max = latency
		}
		total += latency
	}
	avg := time.Duration(0)
	if len(latencies) > 0 {
		avg = time.Duration(int64(total) / int64(len(latencies)))
	}
	log.Printf("lend loader submitted %d operations", submitted)
	log.Printf("Observed %d stream events (pending: %d)", len(latencies), pending)
	log.Printf("Stream latency avg=%s max=%s", avg, max)
}
