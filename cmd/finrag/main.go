// =============================================================================
// finrag 主入口
// =============================================================================
// 金融问答命令行, 包含提问、澄清续跑、文档导入
//
// 使用方法:
//
//	finrag ask "What was AAPL revenue in 2023?"       # 提问
//	finrag ask --compare AAPL,MSFT "Compare margins"  # 对比模式
//	finrag resume --workflow <id> "Apple"             # 回答澄清问题后继续
//	finrag ingest --entity AAPL --type 10-K a.txt     # 导入文档
//	finrag version                                    # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/finrag/agent"
	"github.com/BaSui01/finrag/config"
	"github.com/BaSui01/finrag/internal/telemetry"
	"github.com/BaSui01/finrag/rag"
	"github.com/BaSui01/finrag/rag/loader"
	"github.com/BaSui01/finrag/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "ask":
		code = runAsk(os.Args[2:])
	case "resume":
		code = runResume(os.Args[2:])
	case "ingest":
		code = runIngest(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		code = 1
	}
	os.Exit(code)
}

// =============================================================================
// 🔧 运行环境
// =============================================================================

// app 一次命令执行所需的全部依赖
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	container *agent.Container
	otel      *telemetry.Providers
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	l := config.NewLoader()
	if configPath != "" {
		l = l.WithConfigPath(configPath)
	}
	cfg, err := l.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := initLogger(cfg.Log)

	providers, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	c, err := agent.Build(ctx, cfg, logger, agent.BuildOptions{})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, container: c, otel: providers}, nil
}

func (a *app) close() {
	if err := a.container.Close(); err != nil {
		a.logger.Warn("close container", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// ❓ ask 命令
// =============================================================================

func runAsk(args []string) int {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	conversation := fs.String("conversation", "", "Conversation id for caching and follow-ups")
	entities := fs.String("entity", "", "Comma separated entity filter")
	compare := fs.String("compare", "", "Comma separated entities to compare")
	override := fs.String("override", "", "Entity that replaces detected entities")
	prior := fs.String("prior-answer", "", "Previous answer, enables follow-up handling")
	asJSON := fs.Bool("json", false, "Print the full response as JSON")
	fs.Parse(args)

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		fmt.Fprintln(os.Stderr, "ask: question text is required")
		return 2
	}

	q := types.Query{
		Text:               text,
		ConversationID:     *conversation,
		EntityFilter:       splitList(*entities),
		ComparisonEntities: splitList(*compare),
		OverrideEntity:     *override,
		PriorAnswer:        *prior,
	}
	q.ComparisonMode = len(q.ComparisonEntities) > 0

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer a.close()

	o, err := agent.NewOrchestrator(a.container)
	if err != nil {
		a.logger.Error("build orchestrator", zap.Error(err))
		return 1
	}
	resp, err := o.Ask(ctx, q)
	if err != nil {
		a.logger.Error("ask failed", zap.Error(err))
		return 1
	}
	return printResponse(resp, *asJSON)
}

// =============================================================================
// ↩️ resume 命令
// =============================================================================

func runResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	workflowID := fs.String("workflow", "", "Suspended workflow id")
	asJSON := fs.Bool("json", false, "Print the full response as JSON")
	fs.Parse(args)

	reply := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if *workflowID == "" || reply == "" {
		fmt.Fprintln(os.Stderr, "resume: --workflow and a reply are required")
		return 2
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer a.close()

	o, err := agent.NewOrchestrator(a.container)
	if err != nil {
		a.logger.Error("build orchestrator", zap.Error(err))
		return 1
	}
	resp, err := o.Resume(ctx, *workflowID, reply)
	if err != nil {
		a.logger.Error("resume failed", zap.String("workflow_id", *workflowID), zap.Error(err))
		return 1
	}
	return printResponse(resp, *asJSON)
}

// =============================================================================
// 📥 ingest 命令
// =============================================================================

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	entity := fs.String("entity", "", "Entity the documents belong to")
	contentType := fs.String("type", "", "Document content type, e.g. 10-K")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "ingest: at least one file is required")
		return 2
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer a.close()

	chunker := rag.NewChunker(rag.ChunkingConfig{
		ChunkSize:    a.cfg.Index.ChunkSize,
		ChunkOverlap: a.cfg.Index.ChunkOverlap,
	})
	ingestor := rag.NewIngestor(a.container.Registry(), chunker, a.logger)
	loaders := loader.NewLoaderRegistry()

	failed := 0
	for _, path := range fs.Args() {
		reqs, err := loaders.LoadForEntity(ctx, *entity, *contentType, path)
		if err != nil {
			a.logger.Error("load document", zap.String("path", path), zap.Error(err))
			failed++
			continue
		}
		for _, req := range reqs {
			res, err := ingestor.Ingest(ctx, req)
			if err != nil {
				a.logger.Error("ingest document",
					zap.String("path", path),
					zap.String("document_ref", req.DocumentRef),
					zap.Error(err))
				failed++
				continue
			}
			fmt.Printf("%s\t%s\t%d chunks\t%s\n", res.Collection, req.DocumentRef, res.Chunks, res.Duration.Round(time.Millisecond))
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// =============================================================================
// 📋 输出
// =============================================================================

func printResponse(resp *agent.Response, asJSON bool) int {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			fmt.Fprintf(os.Stderr, "encode response: %v\n", err)
			return 1
		}
		return 0
	}

	switch resp.Outcome {
	case agent.OutcomeClarificationRequired:
		fmt.Println(resp.ClarificationQuestion)
		fmt.Printf("\nResume with: finrag resume --workflow %s \"<answer>\"\n", resp.WorkflowID)
		return 0
	default:
		fmt.Println(resp.Answer)
	}

	if len(resp.Provenance) > 0 {
		fmt.Println("\nSources:")
		for _, p := range resp.Provenance {
			ref := p.DocumentRef
			if p.URL != "" {
				ref = p.URL
			}
			fmt.Printf("  - [%s] %s %s\n", p.Source, p.Entity, ref)
		}
	}
	if resp.Chart != nil {
		fmt.Printf("\nChart: %s\n", resp.Chart.URL)
	} else if resp.ChartError != "" {
		fmt.Printf("\nChart unavailable: %s\n", resp.ChartError)
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("finrag %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`finrag - financial question answering over filings and the web

Usage:
  finrag <command> [options]

Commands:
  ask       Ask a question
  resume    Answer a clarification question and continue a suspended workflow
  ingest    Index documents for an entity
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Options for 'ask':
  --conversation <id>    Conversation id
  --entity <A,B>         Restrict to these entities
  --compare <A,B>        Comparison mode over these entities
  --override <A>         Replace detected entities
  --prior-answer <text>  Previous answer for follow-up questions
  --json                 Print the full response

Options for 'ingest':
  --entity <A>    Entity for files that do not name one
  --type <kind>   Content type, e.g. 10-K, 10-Q, transcript

Examples:
  finrag ask "What was Apple's revenue in fiscal 2023?"
  finrag ask --compare AAPL,MSFT "Compare gross margin"
  finrag resume --workflow 1f0c... "Apple"
  finrag ingest --entity AAPL --type 10-K aapl-10k-2023.txt`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		// stdout 留给回答
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
