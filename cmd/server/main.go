package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aininja-pro/cora-voice/internal/config"
	"github.com/aininja-pro/cora-voice/internal/dashboard"
	"github.com/aininja-pro/cora-voice/internal/dispatch"
	"github.com/aininja-pro/cora-voice/internal/httpserver"
	"github.com/aininja-pro/cora-voice/internal/llm"
	"github.com/aininja-pro/cora-voice/internal/notify"
	"github.com/aininja-pro/cora-voice/internal/realtime"
	"github.com/aininja-pro/cora-voice/internal/rtc"
	"github.com/aininja-pro/cora-voice/internal/session"
	"github.com/aininja-pro/cora-voice/internal/speech"
	"github.com/aininja-pro/cora-voice/internal/telephony"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	var board dispatch.DashboardWriter
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		client, err := dashboard.New(dashboard.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			PropertyID:     cfg.PropertyID,
		})
		if err != nil {
			log.Fatalf("supabase client: %v", err)
		}
		board = client
	} else {
		board = logOnlyBoard{}
	}

	store := dashboard.NewTaskStore()
	dispatcher := dispatch.New(board, store)
	if cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		dispatcher = dispatcher.WithNotifier(notify.NewSender(notify.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
		}))
	}

	dialer := func(ctx context.Context) (realtime.Conn, error) {
		return realtime.Dial(cfg.RealtimeURL, cfg.RealtimeKey)
	}
	manager := session.NewManager(dialer, dispatcher)

	rtcHandler := rtc.NewHandler(manager)
	if cfg.DeepgramKey != "" {
		rtcHandler = rtcHandler.WithSynthesizer(speech.NewDeepgram(cfg.DeepgramKey, cfg.DeepgramModel))
	} else if cfg.ElevenLabsKey != "" && cfg.ElevenLabsVoiceID != "" {
		rtcHandler = rtcHandler.WithSynthesizer(speech.NewElevenLabs(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID))
	}

	var tel *telephony.Service
	if cfg.TwilioAuthToken != "" {
		tel = telephony.New(telephony.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
		}, manager)
	}

	var parser httpserver.CommandParser
	if cfg.OpenAIKey != "" {
		parser = llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel)
	}

	srv := httpserver.New(httpserver.Deps{
		Manager:      manager,
		Dispatcher:   dispatcher,
		Store:        store,
		RTC:          rtcHandler,
		Telephony:    tel,
		Parser:       parser,
		AuthPassword: cfg.AuthPassword,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	manager.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

// logOnlyBoard stands in when Supabase is not configured so voice commands
// still classify and log in local development.
type logOnlyBoard struct{}

func (logOnlyBoard) CreateContact(_ context.Context, c dashboard.Contact) error {
	log.Printf("dashboard (dry-run): contact %s (%s)", c.Name, c.ContactType)
	return nil
}

func (logOnlyBoard) CreateTask(_ context.Context, t dashboard.Task) error {
	log.Printf("dashboard (dry-run): task %s (%s)", t.Title, t.TaskType)
	return nil
}
