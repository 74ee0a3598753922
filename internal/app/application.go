package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// Application wires the classifier pipeline, the state store, and the
// builtin handlers into one ready-to-use instance. Construction is the only
// place collaborators are chosen; nothing reads configuration afterwards
// except through the store.
type Application struct {
	Logger       *Logger
	Store        *StateStore
	Client       ModelClient
	Classifier   *HybridClassifier
	Orchestrator *Orchestrator

	logFile *os.File
}

const Version = "1.0.0"

func NewApplication(cfg AppConfig, mockMode bool) (*Application, error) {
	root := cfg.StorageRoot
	if root == "" {
		root = DefaultStorageRoot()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	// Log to a file so the TUI owns the terminal.
	var logOut io.Writer = os.Stderr
	var logFile *os.File
	if f, err := os.OpenFile(filepath.Join(root, "relay.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		logOut = f
		logFile = f
	}
	logger := NewLogger(logOut)

	var backend PersistenceBackend
	if cfg.StorageDriver == "file" {
		backend = NewFileBackend(root)
	} else {
		sq, err := NewSQLiteBackend(root)
		if err != nil {
			return nil, err
		}
		backend = sq
	}

	store := NewStateStore(cfg, backend, logger.WithComponent("store"))

	var client ModelClient
	if mockMode {
		client = NewMockModelClient()
	} else {
		client = NewHTTPModelClient(cfg.APIKey, cfg.DefaultModel, cfg.BaseURL, cfg.MaxTokens)
	}

	rules := NewRuleClassifier()
	model := NewModelClassifier(client, cfg.DefaultModel, cfg.ModelTimeout())
	hybrid := NewHybridClassifier(rules, model, cfg.ConfidenceThreshold, logger.WithComponent("classifier"))

	orch := NewOrchestrator(hybrid, store, logger.WithComponent("orchestrator"))
	orch.RegisterHandler(InputCommand, NewCommandHandler(store, Version))
	orch.RegisterHandler(InputPrompt, NewPromptHandler(client, store))
	orch.RegisterHandler(InputWorkflow, NewWorkflowHandler(client, store))

	return &Application{
		Logger:       logger,
		Store:        store,
		Client:       client,
		Classifier:   hybrid,
		Orchestrator: orch,
		logFile:      logFile,
	}, nil
}

// Close flushes the active session and releases resources.
func (a *Application) Close(ctx context.Context) error {
	err := a.Store.Close(ctx)
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
	return err
}
