package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	appconfig "github.com/wolfman30/tatamali-wallet/internal/config"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

func TestNewWorkerRejectsInvalidConfig(t *testing.T) {
	cfg := &appconfig.Config{LedgerDriver: "http", NotifyMaxAttempts: 1}
	if _, err := newWorker(context.Background(), cfg, logging.New("error")); err == nil {
		t.Fatalf("expected error for missing ledger settings")
	}
}

func TestNewWorkerDropsUndecodableRecords(t *testing.T) {
	cfg := &appconfig.Config{
		WhatsAppToken:         "token",
		WhatsAppPhoneNumberID: "12345",
		LedgerDriver:          "memory",
		MaxTransferAmount:     "10000",
		NotifyMaxAttempts:     1,
		SessionStore:          "memory",
		SessionTTL:            time.Hour,
		DedupStore:            "memory",
		DedupTTL:              time.Minute,
		InboundQueue:          "memory",
	}
	worker, err := newWorker(context.Background(), cfg, logging.New("error"))
	if err != nil {
		t.Fatalf("newWorker: %v", err)
	}

	resp, err := worker.HandleSQSEvent(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{{MessageId: "m-1", Body: "not json"}},
	})
	if err != nil {
		t.Fatalf("HandleSQSEvent: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		out, _ := json.Marshal(resp)
		t.Fatalf("expected undecodable record to be dropped, got %s", out)
	}
}
