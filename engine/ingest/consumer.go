package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject carries catalog ingestion jobs.
	IngestSubject = "partsiq.ingest"
	// DLQSubject receives jobs that exhausted their retries.
	DLQSubject = "partsiq.ingest.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
)

// Job is a queued ingestion request. CSVPath must be readable by the
// consumer process.
type Job struct {
	CSVPath string `json:"csv_path"`
	Clear   bool   `json:"clear"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Job     Job    `json:"job"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartConsumer starts a NATS consumer that runs ingestion jobs with retry
// and DLQ support.
func StartConsumer(nc *nats.Conn, ing *Ingester, opts Options) (*nats.Subscription, error) {
	log := ing.log

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		// Get retry count from header.
		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		runOpts := opts
		runOpts.Clear = job.Clear
		stats, err := runJob(ctx, ing, job, runOpts)
		if err != nil {
			retries++
			log.Error("ingest: job failed",
				"error", err,
				"csv_path", job.CSVPath,
				"retry", retries,
			)

			if retries >= MaxRetries {
				// Send to DLQ.
				dlq := dlqMessage{
					Job:     job,
					Error:   err.Error(),
					Retries: retries,
				}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
			} else {
				// Re-publish with incremented retry count.
				retryMsg := nats.NewMsg(IngestSubject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("ingest: retry publish failed", "error", err)
				}
			}
		} else {
			log.Info("ingest: job done",
				"csv_path", job.CSVPath,
				"rows", stats.Rows,
				"models", stats.Models,
				"parts", stats.Parts,
				"manuals", stats.Manuals,
				"chunks", stats.Chunks,
			)
		}

		// Ack if JetStream.
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}

func runJob(ctx context.Context, ing *Ingester, job Job, opts Options) (Stats, error) {
	f, err := os.Open(job.CSVPath)
	if err != nil {
		return Stats{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	rows, err := ReadCatalog(f)
	if err != nil {
		return Stats{}, fmt.Errorf("read csv: %w", err)
	}
	return ing.Ingest(ctx, rows, opts)
}
