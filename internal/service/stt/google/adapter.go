// Package google provides a Google Cloud Speech-to-Text streaming connection.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/stt"
)

// Config holds Google STT defaults; per-call Options override them.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// DefaultConfig returns telephony-friendly defaults.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// Dialer implements stt.Dialer with one shared speech client per process.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Dialer struct {
	client *speech.Client
	cfg    Config
}

// New creates the speech client.
func New(ctx context.Context, cfg Config) (*Dialer, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Dialer{client: c, cfg: cfg}, nil
}

func (d *Dialer) Name() string { return "google" }

// Close releases the shared client at shutdown.
func (d *Dialer) Close() error {
	return d.client.Close()
}

// Dial opens a StreamingRecognize call and sends the streaming config.
func (d *Dialer) Dial(ctx context.Context, opts stt.Options) (stt.Conn, error) {
	sctx, cancel := context.WithCancel(ctx)
	stream, err := d.client.StreamingRecognize(sctx)
	if err != nil {
		cancel()
		return nil, classify(err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: d.streamingConfig(opts),
		},
	}); err != nil {
		cancel()
		return nil, classify(err)
	}

	return &conn{stream: stream, cancel: cancel}, nil
}

func (d *Dialer) streamingConfig(opts stt.Options) *speechpb.StreamingRecognitionConfig {
	language := d.cfg.LanguageCode
	if opts.Language != "" {
		language = opts.Language
	}
	rate := d.cfg.SampleRateHz
	if opts.SampleRateHz > 0 {
		rate = opts.SampleRateHz
	}
	enc := d.cfg.AudioEncoding
	if opts.Encoding != "" {
		enc = opts.Encoding
	}

	sc := &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(enc),
			SampleRateHertz:            int32(rate),
			LanguageCode:               language,
			Model:                      googleModel(opts.Model),
			EnableWordTimeOffsets:      true,
			EnableWordConfidence:       true,
			EnableAutomaticPunctuation: true,
		},
		InterimResults:            d.cfg.InterimResults || opts.InterimResults,
		EnableVoiceActivityEvents: true,
	}
	if opts.EndpointingMs > 0 {
		sc.VoiceActivityTimeout = &speechpb.StreamingRecognitionConfig_VoiceActivityTimeout{
			SpeechEndTimeout: durationpb.New(time.Duration(opts.EndpointingMs) * time.Millisecond),
		}
	}
	return sc
}

// googleModel keeps Google model names and drops names meant for other providers.
func googleModel(name string) string {
	switch name {
	case "phone_call", "telephony", "telephony_short", "latest_long", "latest_short", "command_and_search", "default":
		return name
	default:
		return "phone_call"
	}
}

// parseAudioEncoding maps an encoding name to the proto enum, defaulting to LINEAR16.
func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// classify marks errors a redial cannot fix as permanent.
func classify(err error) error {
	if err == nil || isTransient(err) {
		return err
	}
	return fmt.Errorf("%w: %w", stt.ErrPermanent, err)
}

// isTransient reports whether a gRPC failure is worth reconnecting for.
// Google also ends streams with OutOfRange at its duration limit.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Internal, codes.OutOfRange, codes.Unknown:
		return true
	default:
		return false
	}
}

type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type conn struct {
	stream recognizeStream
	cancel context.CancelFunc
}

func (c *conn) Send(frame []byte) error {
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: frame,
		},
	})
}

// Receive reads recognition responses and invokes callbacks.
func (c *conn) Receive(cb stt.Callback) error {
	for {
		resp, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				return nil
			}
			return classify(err)
		}
		dispatch(resp, cb)
	}
}

// Close half-closes the stream and cancels it so Recv returns.
func (c *conn) Close() error {
	err := c.stream.CloseSend()
	c.cancel()
	return err
}

func dispatch(resp *speechpb.StreamingRecognizeResponse, cb stt.Callback) {
	switch resp.GetSpeechEventType() {
	case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_BEGIN:
		cb.OnSpeechStarted()
	case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_END,
		speechpb.StreamingRecognizeResponse_END_OF_SINGLE_UTTERANCE:
		cb.OnUtteranceEnd()
	}

	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		cb.OnTranscript(toEvent(r))
	}
}

// toEvent converts a result. Google finals close the utterance, so they are
// also speech-final.
func toEvent(r *speechpb.StreamingRecognitionResult) models.TranscriptEvent {
	alt := r.GetAlternatives()[0]
	words := make([]models.Word, 0, len(alt.GetWords()))
	for _, w := range alt.GetWords() {
		words = append(words, models.Word{
			Word:       w.GetWord(),
			StartSec:   w.GetStartTime().AsDuration().Seconds(),
			EndSec:     w.GetEndTime().AsDuration().Seconds(),
			Confidence: float64(w.GetConfidence()),
		})
	}
	return models.TranscriptEvent{
		Text:        alt.GetTranscript(),
		IsFinal:     r.GetIsFinal(),
		SpeechFinal: r.GetIsFinal(),
		Confidence:  float64(alt.GetConfidence()),
		Words:       words,
	}
}
