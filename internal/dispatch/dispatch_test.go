package dispatch

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		cfg     Config
		want    any
		wantErr bool
	}{
		{name: "正常系_未指定の場合はlog方式", cfg: Config{}, want: &LogDispatcher{}},
		{name: "正常系_log方式", cfg: Config{Driver: "log"}, want: &LogDispatcher{}},
		{name: "正常系_http方式", cfg: Config{Driver: "http", ServiceURL: "http://mailer:8080"}, want: &HTTPDispatcher{}},
		{name: "正常系_kafka方式", cfg: Config{Driver: "kafka", Brokers: []string{"localhost:9092"}, Topic: "caseflow.emails"}, want: &KafkaDispatcher{}},
		{name: "正常系_smtp方式", cfg: Config{Driver: "smtp", SMTP: SMTPConfig{Host: "localhost", Port: 1025}}, want: &SMTPDispatcher{}},
		{name: "異常系_不明な方式", cfg: Config{Driver: "fax"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, err := New(tt.cfg, fakeAddressBook{}, logger)
			if tt.wantErr {
				if err == nil {
					t.Fatal("エラーが返されなかった")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			t.Cleanup(func() { d.Close() })

			switch tt.want.(type) {
			case *LogDispatcher:
				if _, ok := d.(*LogDispatcher); !ok {
					t.Errorf("型 = %T, want *LogDispatcher", d)
				}
			case *HTTPDispatcher:
				if _, ok := d.(*HTTPDispatcher); !ok {
					t.Errorf("型 = %T, want *HTTPDispatcher", d)
				}
			case *KafkaDispatcher:
				if _, ok := d.(*KafkaDispatcher); !ok {
					t.Errorf("型 = %T, want *KafkaDispatcher", d)
				}
			case *SMTPDispatcher:
				if _, ok := d.(*SMTPDispatcher); !ok {
					t.Errorf("型 = %T, want *SMTPDispatcher", d)
				}
			}
		})
	}
}

// 全送信方式がDispatcherを満たすこと。
var (
	_ Dispatcher = (*LogDispatcher)(nil)
	_ Dispatcher = (*HTTPDispatcher)(nil)
	_ Dispatcher = (*KafkaDispatcher)(nil)
	_ Dispatcher = (*SMTPDispatcher)(nil)
)

func TestSMTPDispatcher_Close(t *testing.T) {
	t.Parallel()

	var d Dispatcher = NewSMTPDispatcher(SMTPConfig{Host: "localhost", Port: 25}, fakeAddressBook{})
	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLogDispatcher_Send(t *testing.T) {
	t.Parallel()

	d := NewLogDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))
	results, err := d.Send(context.Background(), []string{"u1", "u2"}, "ACTION_CREATION", map[string]any{"case_id": "c1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Status != StatusSent {
			t.Errorf("%s の Status = %q, want SENT", r.RecipientID, r.Status)
		}
	}
}

// fakeAddressBook はテスト用のメールアドレス帳。
type fakeAddressBook map[string]string

func (b fakeAddressBook) EmailsOf(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if addr, ok := b[id]; ok {
			out[id] = addr
		}
	}
	return out, nil
}
