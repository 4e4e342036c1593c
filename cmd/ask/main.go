package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/s33g/oai-relay/internal/config"
	"github.com/s33g/oai-relay/internal/imageprep"
	"github.com/s33g/oai-relay/internal/llm"
	"github.com/s33g/oai-relay/internal/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ask:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional)")
	envFile := fs.String("env-file", "", "Load environment variables from this dotenv file")
	endpoint := fs.String("endpoint", "", "Relay URL (overrides client.endpoint)")
	model := fs.String("model", "", "Primary model")
	fallback := fs.String("fallback-model", "", "Model to retry with")
	system := fs.String("system", "", "System prompt")
	text := fs.Bool("text", false, "Ask for free text instead of a JSON object")
	repair := fs.Bool("repair-json", false, "Try to repair malformed JSON answers")
	images := fs.StringArray("image", nil, "Image file to attach (repeatable)")
	maxWidth := fs.Int("max-width", 1024, "Downscale attached images to this width")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" && len(*images) == 0 {
		return fmt.Errorf("nothing to ask: pass a prompt and/or --image")
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *endpoint != "" {
		cfg.Client.Endpoint = *endpoint
	}

	logger, err := logging.New(config.LoggingConfig{Level: cfg.Logging.Level, Format: "console"}, os.Stderr)
	if err != nil {
		return err
	}

	var clientOpts []llm.ClientOption
	if *repair {
		clientOpts = append(clientOpts, llm.WithJSONRepair())
	}
	client, err := llm.NewClient(&cfg.Client, logger, clientOpts...)
	if err != nil {
		return err
	}

	var parts []llm.ContentPart
	if prompt != "" {
		parts = append(parts, llm.TextPart(prompt))
	}
	if len(*images) > 0 {
		imgParts, err := attachImages(*images, imageprep.Options{MaxWidth: *maxWidth}, imageprep.New(nil, logger))
		if err != nil {
			return err
		}
		parts = append(parts, imgParts...)
	}

	var messages []llm.Message
	if *system != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: []llm.ContentPart{llm.TextPart(*system)}})
	}
	messages = append(messages, llm.UserMessage(parts...))

	opts := []llm.ChatOption{llm.WithModel(*model), llm.WithFallbackModel(*fallback)}
	if *text {
		opts = append(opts, llm.WithResponseFormat(llm.FormatText))
	}

	res, err := client.Chat(context.Background(), messages, opts...)
	if err != nil {
		return err
	}

	return printResult(out, res)
}

// attachImages opens every file and hands them to the converter in order
func attachImages(paths []string, opts imageprep.Options, conv *imageprep.Converter) ([]llm.ContentPart, error) {
	files := make([]io.Reader, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open image: %w", err)
		}
		defer f.Close()
		files = append(files, f)
	}

	parts, err := conv.ToImageParts(files, opts)
	if err != nil {
		var decodeErr *imageprep.DecodeError
		if errors.As(err, &decodeErr) {
			return nil, fmt.Errorf("%s: %w", paths[decodeErr.Index], err)
		}
		return nil, err
	}
	return parts, nil
}

func printResult(out io.Writer, res *llm.ChatResult) error {
	if res.JSON != nil {
		pretty, err := json.MarshalIndent(res.JSON, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format answer: %w", err)
		}
		fmt.Fprintln(out, string(pretty))
	} else {
		fmt.Fprintln(out, res.Text)
	}
	fmt.Fprintf(out, "(model: %s)\n", res.Model)
	return nil
}
