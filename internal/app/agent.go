package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RubachokBoss/proctored-assessment/internal/config"
	"github.com/RubachokBoss/proctored-assessment/internal/delivery/httpd"
	"github.com/RubachokBoss/proctored-assessment/internal/models"
	"github.com/RubachokBoss/proctored-assessment/internal/proctor"
	"github.com/RubachokBoss/proctored-assessment/pkg/rabbitmq"
	"github.com/rs/zerolog"
)

// AgentOptions override the agent section of the config from the command line.
type AgentOptions struct {
	ServerURL   string
	Token       string
	JobID       string
	CandidateID string
}

// RunAgent opens a proctored session against the assessment API and drives it
// from in until EOF or "quit". The session is always torn down on return.
func RunAgent(ctx context.Context, cfg *config.Config, opts AgentOptions, in io.Reader, out io.Writer, log zerolog.Logger) error {
	agentCfg := cfg.Agent
	if opts.ServerURL != "" {
		agentCfg.ServerURL = opts.ServerURL
	}
	if opts.Token != "" {
		agentCfg.Token = opts.Token
	}
	if opts.JobID != "" {
		agentCfg.JobID = opts.JobID
	}
	if agentCfg.JobID == "" {
		return errors.New("agent job id is required")
	}

	// Локальный запуск: токен выписывается тем же секретом, что у сервера.
	if agentCfg.Token == "" {
		if opts.CandidateID == "" {
			return errors.New("agent token or candidate id is required")
		}
		tok, err := httpd.IssueToken([]byte(cfg.Auth.JWTSecret), models.Identity{
			UserID: opts.CandidateID,
			Role:   models.RoleCandidate,
		}, 12*time.Hour)
		if err != nil {
			return fmt.Errorf("failed to issue dev token: %w", err)
		}
		agentCfg.Token = tok
	}

	client := proctor.NewClient(agentCfg.ServerURL, agentCfg.Token, cfg.Proctor.Timeout, log)

	sink, closeSink, err := newSink(cfg, client, log)
	if err != nil {
		return err
	}
	defer closeSink()

	visibility := proctor.NewVisibilityAdapter(nil)
	focus := proctor.NewFocusAdapter(nil)

	var (
		loader proctor.Loader
		faces  *proctor.ScriptedClassifier
	)
	switch cfg.Proctor.Classifier {
	case "remote":
		loader = proctor.RemoteLoader(proctor.NewRemoteClassifier(
			cfg.Proctor.DetectorURL,
			cfg.Proctor.Timeout,
			cfg.Proctor.RetryCount,
			cfg.Proctor.RetryDelay,
			log,
		), "")
	default:
		faces = proctor.NewScriptedClassifier(1)
		loader = proctor.Ready(faces)
	}

	runner := proctor.NewRunner(client, proctor.MonitorConfig{
		SampleInterval:  cfg.Proctor.SampleInterval,
		FaceThrottle:    cfg.Proctor.FaceThrottle,
		QueueSize:       cfg.Proctor.QueueSize,
		DeliveryTimeout: cfg.Proctor.Timeout * time.Duration(cfg.Proctor.RetryCount+1),
		Camera:          proctor.NewStaticCamera([]byte("agent-frame")),
		Classifier:      loader,
		Sink:            sink,
		Visibility:      visibility,
		Focus:           focus,
	}, log)
	defer runner.Close()

	state, err := runner.Open(ctx, agentCfg.JobID)
	if err != nil {
		return err
	}

	console := proctor.NewConsole(runner, visibility, focus, faces, out)
	fmt.Fprintf(out, "attempt %s opened\n", state.Attempt.ID)
	if err := console.Exec(ctx, "state"); err != nil {
		return err
	}

	return console.Run(ctx, in)
}

func newSink(cfg *config.Config, client *proctor.Client, log zerolog.Logger) (proctor.Sink, func(), error) {
	if cfg.Proctor.Sink != "amqp" {
		return proctor.NewHTTPSink(client, cfg.Proctor.RetryCount, cfg.Proctor.RetryDelay, log), func() {}, nil
	}

	publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log, rabbitmq.Binding{
		Exchange:   cfg.RabbitMQ.Exchange,
		Queue:      cfg.RabbitMQ.IntegrityQueue,
		RoutingKey: cfg.RabbitMQ.IntegrityRoutingKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create integrity publisher: %w", err)
	}

	closeFn := func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close integrity publisher")
		}
	}
	return proctor.NewAMQPSink(publisher, cfg.RabbitMQ.IntegrityRoutingKey), closeFn, nil
}
