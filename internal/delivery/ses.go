package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const charset = "UTF-8"

// sesClient is the slice of the SES API the sender uses, mockable in tests.
type sesClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES delivers digests through AWS SES.
type SES struct {
	client sesClient

	// SkipEmpty suppresses sending when the digest carries no items. The
	// skipped delivery still counts as a success, so the interval commits
	// and the empty digest is not retried.
	SkipEmpty bool
}

// NewSES creates an SES deliverer using the default AWS credential chain.
func NewSES(ctx context.Context, region string, skipEmpty bool) (*SES, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(cfg), SkipEmpty: skipEmpty}, nil
}

// Deliver sends the email through SES and returns the SES message id.
func (s *SES) Deliver(ctx context.Context, email Email) (string, error) {
	if len(email.To) == 0 {
		return "", errors.New("no recipients configured")
	}
	if email.From == "" {
		return "", errors.New("sender address is required")
	}

	if s.SkipEmpty && email.ItemCount == 0 {
		return "skipped-empty", nil
	}

	body := &types.Body{
		Text: &types.Content{Data: aws.String(email.TextBody), Charset: aws.String(charset)},
	}
	if email.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(email.HTMLBody), Charset: aws.String(charset)}
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(email.From),
		Destination:      &types.Destination{ToAddresses: email.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(email.Subject), Charset: aws.String(charset)},
				Body:    body,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}

	return aws.ToString(out.MessageId), nil
}
