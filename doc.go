// Package emailnet composes email messages once and dispatches them through
// interchangeable email delivery providers (EDPs).
//
// A Message is built with the fluent MessageComposer and is immutable
// afterwards. Providers are registered on a Client, which selects one per send
// and reports every delivery outcome as a SendResult.
//
// # Basic Usage
//
//	client, err := emailnet.New(emailnet.DefaultConfig(),
//		emailnet.WithDefaultProvider("smtp"),
//		emailnet.WithDefaultFrom("noreply@example.com"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.UseSMTP(emailnet.SMTPOptions{
//		Server: &emailnet.SMTPServerOptions{Host: "smtp.example.com", Port: 587},
//	})
//
//	msg, err := emailnet.Compose().
//		To("user@example.com").
//		WithSubject("Welcome").
//		WithPlainTextContent("Welcome!").
//		WithHTMLContent("<h1>Welcome!</h1>").
//		Build()
//
//	result, err := client.Send(ctx, msg)
//	if err == nil && !result.Success {
//		log.Printf("delivery failed: %v", result.Error)
//	}
//
// # Supported Providers
//
//   - SMTP (network delivery or pickup directory)
//   - SendGrid
//   - Mailgun
//   - AWS SES
//   - Resend
//   - SocketLabs
//
// # Errors
//
// Send returns an error only when no delivery was attempted: a nil message,
// no provider could be selected, the message has no sender, or the client is
// closed. Everything that happens after a provider takes the message,
// including invalid provider data, rejections and timeouts, is reported in
// SendResult.Error with an ErrorKind.
//
// Provider-specific settings travel with a message as EdpData, for example
//
//	emailnet.Compose().PassEdpData(emailnet.EdpData{
//		Key:   emailnet.EdpDataSendGridCategories,
//		Value: []string{"onboarding"},
//	})
package emailnet
