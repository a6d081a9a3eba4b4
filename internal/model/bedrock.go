package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

type bedrockBackend struct {
	model        string
	region       string
	accessKey    string
	secretKey    string
	sessionToken string
	baseURL      string
	client       *bedrockruntime.Client
}

func (b *bedrockBackend) connect(ctx context.Context) error {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(b.region)}
	if b.accessKey != "" && b.secretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.accessKey, b.secretKey, b.sessionToken),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}
	b.client = bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if b.baseURL != "" {
			o.BaseEndpoint = aws.String(b.baseURL)
		}
		// Retries are handled by the caller's backoff loop.
		o.RetryMaxAttempts = 1
	})
	return nil
}

func (b *bedrockBackend) complete(ctx context.Context, history []Message) (completion, error) {
	system, turns := splitSystem(history)
	msgs := make([]types.Message, 0, len(turns))
	for _, m := range turns {
		role := types.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		msgs = append(msgs, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(b.model),
		Messages: msgs,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(1),
			Temperature: aws.Float32(0),
		},
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	out, err := b.client.Converse(ctx, input)
	if err != nil {
		return completion{}, b.wrapError(err)
	}
	switch out.StopReason {
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return completion{}, blocked("bedrock stop reason %s", out.StopReason)
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return completion{}, blocked("bedrock returned no message")
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}
	if text.Len() == 0 {
		return completion{}, blocked("bedrock returned no text")
	}

	c := completion{Text: text.String(), InputTokens: -1, OutputTokens: -1}
	if out.Usage != nil {
		c.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		c.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return c, nil
}

func (b *bedrockBackend) wrapError(err error) error {
	pe := NewProviderError("bedrock", b.model, err)
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		pe = pe.WithStatus(respErr.HTTPStatusCode())
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe = pe.WithCode(apiErr.ErrorCode())
		pe.Message = apiErr.ErrorMessage()
	}
	return pe
}
