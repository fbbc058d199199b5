package settings

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettings_ReadDotenv(t *testing.T) {
	t.Run("success - .env file is read into env variables", func(t *testing.T) {
		// arrange
		testDotEnvFile := ".env.test"
		f, err := os.Create(testDotEnvFile)
		if err != nil {
			t.Error(err)
		}
		lines := []string{
			`#COMMENTED=asdf`,
			`LINECI_TEST=1234`,
			``,
			`LINECI_TEST2= 2345 `,
			`LINECI_TEST3="quoted value"`,
		}
		for _, line := range lines {
			f.Write([]byte(line + "\n"))
		}
		f.Close()
		defer os.Remove(testDotEnvFile)

		// act
		ReadDotenv(testDotEnvFile)

		// assert
		assert.Equal(t, os.Getenv("LINECI_TEST"), "1234")
		assert.Equal(t, os.Getenv("LINECI_TEST2"), "2345")
		assert.Equal(t, os.Getenv("LINECI_TEST3"), "quoted value")
		assert.Empty(t, os.Getenv("COMMENTED"))
	})
	t.Run("success - missing file leaves environment untouched", func(t *testing.T) {
		// act
		ReadDotenv("no-such-env-file")

		// assert
		assert.Empty(t, os.Getenv("NO_SUCH_ENV_FILE_VAR"))
	})
}

func TestSettings_NewSettings(t *testing.T) {
	t.Run("success - defaults applied", func(t *testing.T) {
		// act
		s := NewSettings()

		// assert
		assert.Equal(t, "localhost", s.Domain)
		assert.Equal(t, ":8080", s.Port)
		assert.Equal(t, "sqlite", s.DatabaseDriver)
		assert.Equal(t, "workspace", s.Workspace)
		assert.Equal(t, int64(3), s.QueueSize)
	})
	t.Run("success - port prefixed with a colon", func(t *testing.T) {
		// arrange
		t.Setenv("LINECI_PORT", "9090")

		// act
		s := NewSettings()

		// assert
		assert.Equal(t, ":9090", s.Port)
	})
}

func TestSettings_BaseURL(t *testing.T) {
	t.Run("success - localhost keeps the port", func(t *testing.T) {
		s := &AppSettings{Domain: "localhost", Port: ":8080"}
		assert.Equal(t, "http://localhost:8080", s.BaseURL())
	})
	t.Run("success - public domain uses https", func(t *testing.T) {
		s := &AppSettings{Domain: "ci.example.com", Port: ":8080"}
		assert.Equal(t, "https://ci.example.com", s.BaseURL())
	})
}

func TestSettings_SQLiteDbString(t *testing.T) {
	t.Run("success - writer gets rwc mode and immediate txlock", func(t *testing.T) {
		// arrange
		s := &AppSettings{SQLiteDatabase: "file:db.sqlite"}

		// act
		dbString := s.SQLiteDbString(false)

		// assert
		assert.True(t, strings.HasPrefix(dbString, "file:db.sqlite?"))
		assert.Contains(t, dbString, "mode=rwc")
		assert.Contains(t, dbString, "_txlock=IMMEDIATE")
		assert.Contains(t, dbString, "_journal_mode=WAL")
	})
	t.Run("success - reader gets ro mode", func(t *testing.T) {
		// arrange
		s := &AppSettings{SQLiteDatabase: "file:db.sqlite"}

		// act
		dbString := s.SQLiteDbString(true)

		// assert
		assert.Contains(t, dbString, "mode=ro")
		assert.NotContains(t, dbString, "_txlock")
	})
}
