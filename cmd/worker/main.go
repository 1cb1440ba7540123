package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ideagen/backend/internal/chat"
	"github.com/ideagen/backend/internal/config"
)

// stats aggregates consumed chat events between summary flushes.
type stats struct {
	mu           sync.Mutex
	byOutcome    map[string]int64
	tokensInput  int64
	tokensOutput int64
	totalMs      int64
	count        int64
}

func newStats() *stats {
	return &stats{byOutcome: make(map[string]int64)}
}

func (s *stats) record(e chat.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOutcome[e.Outcome]++
	s.tokensInput += int64(e.TokensInput)
	s.tokensOutput += int64(e.TokensOutput)
	s.totalMs += e.DurationMs
	s.count++
}

func (s *stats) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return
	}
	avgMs := s.totalMs / s.count
	log.Printf("worker summary events=%d tokens_in=%d tokens_out=%d avg_ms=%d outcomes=%v",
		s.count, s.tokensInput, s.tokensOutput, avgMs, s.byOutcome)
	s.byOutcome = make(map[string]int64)
	s.tokensInput, s.tokensOutput, s.totalMs, s.count = 0, 0, 0, 0
}

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	if cfg.RabbitURL == "" {
		log.Fatal("RABBIT_URL is required for the worker")
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, nil)
	if err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	agg := newStats()

	// periodic summary
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	events := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range events {
				var e chat.Event
				if err := json.Unmarshal(d.Body, &e); err != nil || e.SessionID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				agg.record(e)
				if e.Outcome == "upstream_error" || e.Outcome == "internal_error" {
					log.Printf("worker=%d event session_id=%s outcome=%s duration_ms=%d",
						workerID, e.SessionID, e.Outcome, e.DurationMs)
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed session_id=%s err=%v", workerID, e.SessionID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(events)
			wg.Wait()
			agg.flush()
			return

		case <-ticker.C:
			agg.flush()

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			events <- d
		}
	}
}
