// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

package mail

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/samber/oops"
)

// sesAPI is the part of *sesv2.Client SESSender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers mail through the Amazon SES v2 API.
type SESSender struct {
	client sesAPI
	from   string
}

// NewSESSender loads AWS configuration and creates an SESSender.
func NewSESSender(ctx context.Context, from string, cfg SESConfig) (*SESSender, error) {
	fromAddr, err := parseAddress("from", from)
	if err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").With("operation", "load aws config").Wrap(err)
	}

	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newSESSender(client, fromAddr), nil
}

func newSESSender(client sesAPI, from string) *SESSender {
	return &SESSender{client: client, from: from}
}

// Send delivers one message.
func (s *SESSender) Send(ctx context.Context, to, subject, body string) error {
	rcpt, err := parseAddress("to", to)
	if err != nil {
		return err
	}
	if err := validateHeader("subject", subject); err != nil {
		return err
	}

	_, err = s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{rcpt}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("operation", "ses send email").Wrap(err)
	}
	return nil
}
