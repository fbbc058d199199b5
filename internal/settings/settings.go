package settings

import (
	"bufio"
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"strings"
)

var Settings *AppSettings

func NewSettings() *AppSettings {
	settings := AppSettings{
		Domain:         getEnvOrDefault("LINECI_DOMAIN", "localhost"),
		Port:           getEnvOrDefault("LINECI_PORT", ":8080"),
		DatabaseDriver: getEnvOrDefault("LINECI_DB_DRIVER", "sqlite"),
		SQLiteDatabase: getEnvOrDefault("LINECI_DB_PATH", "file:.///db.sqlite"),
		PostgresDSN:    os.Getenv("LINECI_POSTGRES_DSN"),
		Workspace:      getEnvOrDefault("LINECI_WORKSPACE", "workspace"),
		QueueSize:      3,
		SMTPHost:       os.Getenv("LINECI_SMTP_HOST"),
		SMTPPort:       getEnvOrDefault("LINECI_SMTP_PORT", "587"),
		SMTPFrom:       os.Getenv("LINECI_SMTP_FROM"),
		SMTPUsername:   os.Getenv("LINECI_SMTP_USERNAME"),
		SMTPPassword:   os.Getenv("LINECI_SMTP_PASSWORD"),
		WebhookKey:     os.Getenv("LINECI_WEBHOOK_KEY"),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

type AppSettings struct {
	Domain         string
	Port           string
	DatabaseDriver string
	SQLiteDatabase string
	PostgresDSN    string
	Workspace      string
	QueueSize      int64
	SMTPHost       string
	SMTPPort       string
	SMTPFrom       string
	SMTPUsername   string
	SMTPPassword   string
	WebhookKey     string
}

func (as *AppSettings) BaseURL() string {
	if as.Domain == "localhost" {
		return fmt.Sprintf("http://%s%s", as.Domain, as.Port)
	} else {
		return fmt.Sprintf("https://%s", as.Domain)
	}
}

func (as *AppSettings) SQLiteDbString(readonly bool) string {
	params := make(url.Values)
	params.Add("_journal_mode", "WAL")
	params.Add("_busy_timeout", "5000")
	params.Add("_synchronous", "NORMAL")
	params.Add("_cache_size", "-20000")
	params.Add("_foreign_keys", "ON")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "IMMEDIATE")
		params.Add("mode", "rwc")
	}

	return as.SQLiteDatabase + "?" + params.Encode()
}

func ReadDotenv(path string) {
	re := regexp.MustCompile(`^[^0-9][A-Z0-9_]+=.+$`)
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] != '#' && re.Match(line) {
			split := strings.SplitN(string(line), "=", 2)
			name := strings.TrimSpace(split[0])
			value := strings.TrimSpace(split[1])
			value = strings.Trim(value, `"`)
			if err := os.Setenv(name, value); err != nil {
				log.Println("err setting dotenv variable:", err)
			}
		}
	}
}
