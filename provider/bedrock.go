package provider

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentive-dev/agentive/errors"
	"github.com/agentive-dev/agentive/message"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// Bedrock serves Anthropic models through AWS Bedrock. The wire body is
// the same hand-built Anthropic dialect; the SDK contributes only the
// signed transport, since SigV4 and the binary event stream are not
// something to hand-roll.
type Bedrock struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrock creates a Bedrock translator using ambient AWS credentials.
func NewBedrock(ctx context.Context, modelID string) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	return &Bedrock{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

// NewBedrockWithClient creates a Bedrock translator around an existing
// client, useful for tests.
func NewBedrockWithClient(client *bedrockruntime.Client, modelID string) *Bedrock {
	return &Bedrock{client: client, modelID: modelID}
}

// Name returns the provider name.
func (b *Bedrock) Name() string { return "bedrock" }

func (b *Bedrock) body(req *Request) ([]byte, error) {
	body := encodeAnthropicRequest(req)
	body.AnthropicVersion = bedrockAnthropicVersion
	// Model travels in the InvokeModel input, not the body; stream is
	// implied by the operation.
	body.Model = ""
	body.Stream = false
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal Bedrock request body")
	}
	return payload, nil
}

// Chat issues one non-streaming model call.
func (b *Bedrock) Chat(ctx context.Context, req *Request) (*message.Message, error) {
	payload, err := b.body(req)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	var parsed anResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, errors.Wrapf(err, "failed to parse Bedrock response")
	}
	m := decodeAnthropicBlocks(parsed.Content)
	m.Model = b.modelID
	m.Usage = decodeAnthropicUsage(parsed.Usage)
	return &m, nil
}

// ChatStream issues one streaming model call. Each event-stream chunk
// payload is one Anthropic stream event, decoded with the same state
// machine as the direct API.
func (b *Bedrock) ChatStream(ctx context.Context, req *Request) (<-chan StreamEvent, error) {
	payload, err := b.body(req)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model stream")
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()
		state := newANStreamState()
		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var parsed anStreamEvent
			if err := json.Unmarshal(chunk.Value.Bytes, &parsed); err != nil {
				out <- StreamEvent{Type: StreamError, Err: errors.Wrapf(err, "unexpected Bedrock stream chunk")}
				continue
			}
			text, call, done := state.apply(parsed)
			if text != "" {
				out <- StreamEvent{Type: StreamTextDelta, Text: text}
			}
			if call != nil {
				out <- StreamEvent{Type: StreamToolCall, ToolCall: call}
			}
			if done {
				break
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamEvent{Type: StreamError, Err: errors.Wrapf(err, "Bedrock stream failed")}
			return
		}
		final := state.finish()
		final.Model = b.modelID
		out <- StreamEvent{Type: StreamDone, Message: final}
	}()
	return out, nil
}
