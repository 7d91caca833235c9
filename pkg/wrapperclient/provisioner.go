package wrapperclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/greenprompt/registry/pkg/log"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

const (
	sshPort           = 22
	sshConnectTimeout = 10 * time.Second

	// serviceName is the systemd unit the wrapper runs under.
	serviceName = "llm-wrapper"
)

// installScript is the provisioning sequence executed on a bare host:
// package install, repo clone, service file write, enable and start. Any
// non-zero exit fails the whole installation.
var installScript = []string{
	"sudo apt-get update -y",
	"sudo apt-get install -y python3 python3-pip python3-venv git",
	"sudo rm -rf /opt/llm-wrapper && sudo git clone https://github.com/greenprompt/llm-wrapper.git /opt/llm-wrapper",
	"cd /opt/llm-wrapper && sudo python3 -m venv venv && sudo ./venv/bin/pip install -r requirements.txt",
	"sudo tee /etc/systemd/system/" + serviceName + ".service > /dev/null <<'EOF'\n" +
		"[Unit]\n" +
		"Description=GreenPrompt LLM Wrapper\n" +
		"After=network.target\n\n" +
		"[Service]\n" +
		"WorkingDirectory=/opt/llm-wrapper\n" +
		"ExecStart=/opt/llm-wrapper/venv/bin/python -m uvicorn app.main:app --host 0.0.0.0 --port 8000\n" +
		"Restart=on-failure\n\n" +
		"[Install]\n" +
		"WantedBy=multi-user.target\n" +
		"EOF",
	"sudo systemctl daemon-reload",
	"sudo systemctl enable --now " + serviceName,
}

var restartScript = []string{
	"sudo systemctl restart " + serviceName,
}

// Provisioner installs and restarts the wrapper service on a remote host
// over SSH with password authentication.
type Provisioner struct {
	address  string
	username string
	password string
	logger   zerolog.Logger

	// dial is swapped out in tests.
	dial func(ctx context.Context) (sshSession, error)
}

// sshSession is the slice of *ssh.Client the provisioner needs.
type sshSession interface {
	Run(command string) (output []byte, err error)
	Close() error
}

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Run(command string) ([]byte, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.CombinedOutput(command)
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

// NewProvisioner creates a provisioner for one host.
func NewProvisioner(address, username, password string) *Provisioner {
	p := &Provisioner{
		address:  address,
		username: username,
		password: password,
		logger:   log.WithWrapper(address),
	}
	p.dial = p.dialSSH
	return p
}

func (p *Provisioner) dialSSH(ctx context.Context) (sshSession, error) {
	config := &ssh.ClientConfig{
		User: p.username,
		Auth: []ssh.AuthMethod{
			ssh.Password(p.password),
		},
		// Wrapper hosts are provisioned from scratch; there is no host key
		// inventory to verify against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshConnectTimeout,
	}

	addr := net.JoinHostPort(p.address, fmt.Sprintf("%d", sshPort))
	dialer := net.Dialer{Timeout: sshConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w: %v", addr, ErrUnreachable, err)
	}

	sshc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w: %v", addr, ErrUnreachable, err)
	}
	return &sshConn{client: ssh.NewClient(sshc, chans, reqs)}, nil
}

// Install runs the full provisioning sequence. It is idempotent: rerunning
// it on an already-provisioned host converges to the same state.
func (p *Provisioner) Install(ctx context.Context) error {
	return p.runScript(ctx, installScript)
}

// Restart restarts the wrapper systemd unit.
func (p *Provisioner) Restart(ctx context.Context) error {
	return p.runScript(ctx, restartScript)
}

func (p *Provisioner) runScript(ctx context.Context, script []string) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, command := range script {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("provisioning %s aborted: %w", p.address, err)
		}
		output, err := conn.Run(command)
		if err != nil {
			p.logger.Error().
				Err(err).
				Str("command", command).
				Bytes("output", output).
				Msg("Provisioning step failed")
			return fmt.Errorf("provisioning %s: command %q failed: %w", p.address, command, err)
		}
	}
	return nil
}
