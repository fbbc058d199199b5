package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/lineci/lineci/internal/descriptor"
)

// CommandRunner executes one resolved step and reports its exit code.
// A non-nil error means the command could not be run at all (missing
// binary, broken connection); the sequencer treats both outcomes as the
// same step failure.
type CommandRunner interface {
	RunStep(step descriptor.Step, environ []string, output chan<- string) (int, error)
	// ReadFile reads a file relative to the runner's base directory.
	ReadFile(path string) ([]byte, error)
	Close() error
}

// LocalRunner executes steps as child processes on the host.
type LocalRunner struct {
	BaseDir string
}

func NewLocalRunner(baseDir string) *LocalRunner {
	return &LocalRunner{BaseDir: baseDir}
}

func (r *LocalRunner) RunStep(
	step descriptor.Step,
	environ []string,
	output chan<- string,
) (int, error) {
	cmd := exec.Command(step.Command, step.Args...)
	cmd.Dir = r.stepDir(step)
	cmd.Env = append(os.Environ(), environ...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		scanLines(stdout, output)
	})
	wg.Go(func() {
		scanLines(stderr, output)
	})
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func (r *LocalRunner) ReadFile(path string) ([]byte, error) {
	if filepath.IsAbs(path) {
		return os.ReadFile(path)
	}
	return os.ReadFile(filepath.Join(r.BaseDir, path))
}

func (r *LocalRunner) Close() error { return nil }

func (r *LocalRunner) stepDir(step descriptor.Step) string {
	if step.Workdir == "" {
		return r.BaseDir
	}
	if filepath.IsAbs(step.Workdir) {
		return step.Workdir
	}
	return filepath.Join(r.BaseDir, step.Workdir)
}

func scanLines(r io.Reader, output chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		output <- scanner.Text() + "\n"
	}
}

// SSHRunner executes each step in its own session on a remote agent.
type SSHRunner struct {
	client  *ssh.Client
	baseDir string
}

// NewSSHRunner dials the agent with public-key auth. Port 22 is assumed
// when the hostname carries no port.
func NewSSHRunner(username, hostname string, privateKey []byte, baseDir string) (*SSHRunner, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("err parsing ssh private key: %w", err)
	}
	cc := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	if !strings.Contains(hostname, ":") {
		hostname += ":22"
	}
	client, err := ssh.Dial("tcp", hostname, cc)
	if err != nil {
		return nil, fmt.Errorf("err dialing ssh: %w", err)
	}
	return &SSHRunner{client: client, baseDir: baseDir}, nil
}

func (r *SSHRunner) RunStep(
	step descriptor.Step,
	environ []string,
	output chan<- string,
) (int, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return -1, err
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return -1, err
	}

	if err := sess.Start(r.remoteCommand(step, environ)); err != nil {
		return -1, err
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		scanLines(stdout, output)
	})
	wg.Go(func() {
		scanLines(stderr, output)
	})
	wg.Wait()

	if err := sess.Wait(); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return -1, err
	}
	return 0, nil
}

func (r *SSHRunner) ReadFile(path string) ([]byte, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	if r.baseDir != "" && !strings.HasPrefix(path, "/") {
		path = r.baseDir + "/" + path
	}
	return sess.Output("cat " + shellQuote(path))
}

func (r *SSHRunner) SetBaseDir(dir string) {
	r.baseDir = dir
}

func (r *SSHRunner) BaseDir() string {
	return r.baseDir
}

func (r *SSHRunner) Close() error {
	return r.client.Close()
}

func (r *SSHRunner) Client() *ssh.Client {
	return r.client
}

// remoteCommand builds the remote invocation. The step's command and
// arguments are quoted individually so remote shell expansion never
// re-interprets them; variable bindings are prepended as assignments.
func (r *SSHRunner) remoteCommand(step descriptor.Step, environ []string) string {
	var sb strings.Builder
	dir := r.baseDir
	if step.Workdir != "" {
		if strings.HasPrefix(step.Workdir, "/") {
			dir = step.Workdir
		} else {
			dir = dir + "/" + step.Workdir
		}
	}
	if dir != "" {
		sb.WriteString("cd " + shellQuote(dir) + " && ")
	}
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		sb.WriteString(k + "=" + shellQuote(v) + " ")
	}
	sb.WriteString(shellQuote(step.Command))
	for _, arg := range step.Args {
		sb.WriteString(" " + shellQuote(arg))
	}
	return sb.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
