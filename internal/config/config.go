package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	OpenAIKey   string
	OpenAIModel string
	RealtimeURL string
	RealtimeKey string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	PropertyID             string

	ElevenLabsKey     string
	ElevenLabsVoiceID string
	DeepgramKey       string
	DeepgramModel     string

	AuthPassword string
}

// Load reads environment variables and returns Config with sane defaults.
// Missing keys degrade the matching feature and are warned, not fatal.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - structured command parsing will not work")
	}
	openAIModel := os.Getenv("OPENAI_MODEL")
	if openAIModel == "" {
		openAIModel = "gpt-4-turbo-preview"
	}

	realtimeURL := os.Getenv("REALTIME_URL")
	if realtimeURL == "" {
		realtimeURL = "wss://api.openai.com/v1/realtime"
	}
	realtimeKey := os.Getenv("REALTIME_API_KEY")
	if realtimeKey == "" {
		realtimeKey = openAIKey
	}
	if realtimeKey == "" {
		log.Println("Warning: REALTIME_API_KEY not set - voice sessions will not connect")
	}

	twilioSID := os.Getenv("TWILIO_ACCOUNT_SID")
	twilioToken := os.Getenv("TWILIO_AUTH_TOKEN")
	if twilioToken == "" {
		log.Println("Warning: TWILIO_AUTH_TOKEN not set - telephony webhooks disabled")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if supabaseURL == "" || supabaseKey == "" {
		log.Println("Warning: SUPABASE_URL / SUPABASE_SERVICE_ROLE_KEY not set - dashboard writes disabled")
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if elevenKey == "" && deepgramKey == "" {
		log.Println("Warning: no TTS key set - spoken confirmations disabled")
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:            addr,
		OpenAIKey:              openAIKey,
		OpenAIModel:            openAIModel,
		RealtimeURL:            realtimeURL,
		RealtimeKey:            realtimeKey,
		TwilioAccountSID:       twilioSID,
		TwilioAuthToken:        twilioToken,
		TwilioFromNumber:       os.Getenv("TWILIO_FROM_NUMBER"),
		SupabaseURL:            supabaseURL,
		SupabaseServiceRoleKey: supabaseKey,
		PropertyID:             os.Getenv("PROPERTY_ID"),
		ElevenLabsKey:          elevenKey,
		ElevenLabsVoiceID:      voiceID,
		DeepgramKey:            deepgramKey,
		DeepgramModel:          os.Getenv("DEEPGRAM_MODEL"),
		AuthPassword:           os.Getenv("AUTH_PASSWORD"),
	}
}
