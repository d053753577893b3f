package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings. The target API requires a Bearer
// token and a payee relationship between the chosen accounts, so the
// benchmark is driven by a pre-generated roster file produced by the seeder.
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	rosterPath  string
)

// roster maps an account id to an access token and its authorized payees.
type rosterEntry struct {
	UserID string   `json:"user_id"`
	Token  string   `json:"token"`
	Payees []string `json:"payees"`
}

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	fail409       uint64 // Conflicts (Aborts)
	fail422       uint64 // Policy rejections (insufficient balance etc.)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&rosterPath, "roster", "roster.json", "Path to the account roster file")
}

func main() {
	flag.Parse()

	roster, err := loadRoster(rosterPath)
	if err != nil {
		log.Fatalf("Unable to load roster: %v", err)
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Accounts: %d",
		workload, concurrency, duration, len(roster))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, roster)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func loadRoster(path string) ([]rosterEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var roster []rosterEntry
	if err := json.Unmarshal(data, &roster); err != nil {
		return nil, err
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("roster is empty")
	}
	return roster, nil
}

func worker(wg *sync.WaitGroup, start time.Time, roster []rosterEntry) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		sender := pickSender(roster)
		if len(sender.Payees) == 0 {
			continue
		}
		recipient := sender.Payees[rand.Intn(len(sender.Payees))]
		amount := int64(100)

		key := fmt.Sprintf("bench-%s-%d", sender.UserID, time.Now().UnixNano())

		payload := map[string]interface{}{
			"recipient_id": recipient,
			"amount":       amount,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+sender.Token)
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickSender(roster []rosterEntry) rosterEntry {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic originates from the first two accounts
		if rand.Float32() < 0.90 {
			return roster[rand.Intn(2)%len(roster)]
		}
	}
	return roster[rand.Intn(len(roster))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	abortRate := float64(f409) / float64(total) * 100

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": s201,
		"success_replay":  s200,
		"aborts_conflict": f409,
		"policy_rejected": f422,
		"abort_rate_pct":  abortRate,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
