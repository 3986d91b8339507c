package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
)

// pollyAPI is the subset of the Polly client used here.
type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type pollySynth struct {
	client       pollyAPI
	languageCode string
	engine       string
}

// NewPollySynth builds an Amazon Polly backend using the default AWS
// credential chain.
func NewPollySynth(ctx context.Context, region, languageCode, engine string) (Synthesizer, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newPollySynth(polly.NewFromConfig(cfg), languageCode, engine), nil
}

func newPollySynth(client pollyAPI, languageCode, engine string) *pollySynth {
	return &pollySynth{client: client, languageCode: languageCode, engine: engine}
}

func (p *pollySynth) Format() string { return FormatMP3 }

func (p *pollySynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	input := &polly.SynthesizeSpeechInput{
		Text:         aws.String(req.Text),
		OutputFormat: types.OutputFormatMp3,
		VoiceId:      types.VoiceId(req.Voice),
	}
	if p.languageCode != "" {
		input.LanguageCode = types.LanguageCode(p.languageCode)
	}
	if p.engine != "" {
		input.Engine = types.Engine(p.engine)
	}
	out, err := p.client.SynthesizeSpeech(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("polly synthesize: %w", err)
	}
	if out.AudioStream == nil {
		return nil, fmt.Errorf("polly response did not contain audio data")
	}
	defer out.AudioStream.Close()
	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("read polly audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("polly returned empty audio")
	}
	return data, nil
}
