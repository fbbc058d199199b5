package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/lineci/lineci/internal"
	"github.com/lineci/lineci/internal/descriptor"
	"github.com/lineci/lineci/internal/notify"
	"github.com/lineci/lineci/internal/pipeline"
	"github.com/lineci/lineci/internal/settings"
	"github.com/lineci/lineci/internal/store"

	_ "modernc.org/sqlite"
)

var (
	descriptorPath string
	branch         string
	workdir        string
	statusDB       string
	noNotify       bool
)

var rootCmd = &cobra.Command{
	Use:   "lineci",
	Short: "Run CI pipelines described by a lineci.yml descriptor",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the descriptor's install steps and script on this host",
	Run:   runPipeline,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate a descriptor without running it",
	RunE:  validateDescriptor,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&descriptorPath, "file", "f", internal.DefaultDescriptorPath, "descriptor file path",
	)
	runCmd.Flags().StringVar(&branch, "branch", internal.DefaultBranch, "branch the run is for")
	runCmd.Flags().StringVar(&workdir, "workdir", ".", "directory the steps execute in")
	runCmd.Flags().StringVar(
		&statusDB, "status-db", "file:.lineci.sqlite",
		"sqlite database recording outcomes for the change trigger",
	)
	runCmd.Flags().BoolVar(&noNotify, "no-notify", false, "skip notifications for this run")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func validateDescriptor(cmd *cobra.Command, args []string) error {
	if _, err := descriptor.Load(descriptorPath); err != nil {
		return err
	}
	fmt.Printf("%s is a valid descriptor\n", descriptorPath)
	return nil
}

func runPipeline(cmd *cobra.Command, args []string) {
	d, err := descriptor.Load(descriptorPath)
	if err != nil {
		log.Println("invalid descriptor:", err)
		os.Exit(internal.ExitFailed)
	}

	runner := pipeline.NewLocalRunner(workdir)
	defer runner.Close()

	output := make(chan string, 100)
	var wg sync.WaitGroup
	wg.Go(func() {
		for line := range output {
			fmt.Print(line)
		}
	})

	result := pipeline.NewSequencer(runner, output).Run(d, branch)
	close(output)
	wg.Wait()

	if !noNotify && result.Status != store.StatusSkipped {
		notifyResult(d, result)
	}

	switch result.Status {
	case store.StatusPassed:
		os.Exit(internal.ExitPassed)
	case store.StatusSkipped:
		os.Exit(internal.ExitSkipped)
	default:
		if result.ExitCode > 0 {
			os.Exit(result.ExitCode)
		}
		os.Exit(internal.ExitFailed)
	}
}

// notifyResult records the outcome in a local sqlite database and delivers
// notifications per the descriptor's policy. One-shot runs key the status
// row on a pipeline row named after the working directory.
func notifyResult(d *descriptor.Descriptor, result pipeline.RunResult) {
	settings.ReadDotenv(internal.DotEnvPath)
	settings.Settings = settings.NewSettings()
	settings.Settings.DatabaseDriver = "sqlite"
	settings.Settings.SQLiteDatabase = statusDB

	db := store.InitDatabase(false)
	defer db.Close()
	store.RunMigrations(db)

	ctx := context.Background()
	pipelineStore := store.NewPipelineSQLStore(db, db)
	name := pipelineName()
	p, err := pipelineStore.ReadPipelineByName(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		p, err = pipelineStore.CreatePipeline(ctx, name, "", workdir, descriptorPath)
	}
	if err != nil {
		log.Println("err recording pipeline status:", err)
		return
	}

	smtpConfig := notify.SMTPConfig{
		Host:     settings.Settings.SMTPHost,
		Port:     settings.Settings.SMTPPort,
		From:     settings.Settings.SMTPFrom,
		Username: settings.Settings.SMTPUsername,
		Password: settings.Settings.SMTPPassword,
	}
	msg := notify.Message{
		Pipeline:        p.Name,
		Branch:          branch,
		Status:          result.Status,
		FailedStep:      result.FailedStep,
		FailedStepIndex: result.FailedStepIndex,
		ExitCode:        result.ExitCode,
	}
	notifier := notify.NewNotifier(store.NewPipelineStatusSQLStore(db, db))
	if err := notifier.Notify(
		ctx,
		p.PipelineID,
		msg,
		d.Notifications,
		notify.Channels(d.Notifications, smtpConfig),
	); err != nil {
		log.Println("err delivering notifications:", err)
	}
}

func pipelineName() string {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		return "lineci"
	}
	return filepath.Base(abs)
}
