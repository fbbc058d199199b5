package internal

const (
	DotEnvPath              = "./.env"
	MigrationsDir           = "migrations"
	RunDirLayout            = "20060102_150405000"
	DBTimestampLayout       = "2006-01-02 15:04:05"
	DefaultDescriptorPath   = "lineci.yml"
	DefaultBranch           = "main"
	ArtifactsDir            = "artifacts"
	WebhookTriggerKeyHeader = "X-LineCI-Webhook-Key"
)

// Process exit codes for one-shot runs. A failed run exits with the
// failing step's own code whenever that code is known.
const (
	ExitPassed  = 0
	ExitFailed  = 1
	ExitSkipped = 3
)
