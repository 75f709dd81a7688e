package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	targetURL   string
	callbackURL string
	concurrency int
	duration    time.Duration
	payers      int
	workload    string
	settleWait  time.Duration
)

var (
	totalRequests uint64
	created       uint64
	rejected      uint64 // 4xx
	failOther     uint64
	completed     uint64
	failed        uint64
	unsettled     uint64

	latencyMu sync.Mutex
	settleSum time.Duration
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "Payment service base URL")
	flag.StringVar(&callbackURL, "callback", "http://localhost:9999/callback", "Callback URL sent with every payment")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.IntVar(&payers, "payers", 1000, "Number of seeded payers (payer-1..payer-N)")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.DurationVar(&settleWait, "settle-timeout", 10*time.Second, "How long to poll a payment for a terminal status")
}

type paymentView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func main() {
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	slog.Info("Starting load generation", "workload", workload, "workers", concurrency, "duration", duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}
	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		payer := pickPayer()
		amount := fmt.Sprintf("%d.%02d", 1+rand.Intn(20), rand.Intn(100))
		body, _ := json.Marshal(map[string]string{"amount": amount, "callbackUrl": callbackURL})

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/payments", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Payer-Id", payer)

		sent := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)

		var p paymentView
		switch {
		case resp.StatusCode == http.StatusCreated:
			atomic.AddUint64(&created, 1)
			json.NewDecoder(resp.Body).Decode(&p)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			atomic.AddUint64(&rejected, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()

		if p.ID != "" {
			awaitSettlement(client, p.ID, payer, sent)
		}
	}
}

// awaitSettlement polls the payment until it is terminal or settleWait passes.
func awaitSettlement(client *http.Client, id, payer string, sent time.Time) {
	deadline := sent.Add(settleWait)
	for time.Now().Before(deadline) {
		req, _ := http.NewRequest("GET", targetURL+"/api/v1/payments/"+id, nil)
		req.Header.Set("X-Payer-Id", payer)
		resp, err := client.Do(req)
		if err == nil {
			var p paymentView
			json.NewDecoder(resp.Body).Decode(&p)
			resp.Body.Close()
			switch p.Status {
			case "COMPLETED":
				atomic.AddUint64(&completed, 1)
				recordSettle(time.Since(sent))
				return
			case "FAILED":
				atomic.AddUint64(&failed, 1)
				recordSettle(time.Since(sent))
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	atomic.AddUint64(&unsettled, 1)
}

func recordSettle(d time.Duration) {
	latencyMu.Lock()
	settleSum += d
	latencyMu.Unlock()
}

func pickPayer() string {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		// 90% of traffic lands on two payers, contending on their row locks
		return fmt.Sprintf("payer-%d", 1+rand.Intn(2))
	}
	return fmt.Sprintf("payer-%d", 1+rand.Intn(payers))
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	done := atomic.LoadUint64(&completed)
	fail := atomic.LoadUint64(&failed)

	avgSettle := 0.0
	if n := done + fail; n > 0 {
		latencyMu.Lock()
		avgSettle = settleSum.Seconds() / float64(n) * 1000
		latencyMu.Unlock()
	}

	results := map[string]any{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_rps":    float64(total) / d.Seconds(),
		"created":           atomic.LoadUint64(&created),
		"rejected":          atomic.LoadUint64(&rejected),
		"errors":            atomic.LoadUint64(&failOther),
		"settled_completed": done,
		"settled_failed":    fail,
		"unsettled":         atomic.LoadUint64(&unsettled),
		"avg_settle_ms":     avgSettle,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		slog.Error("Unable to write results file", "file", filename, "error", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
