package lambda

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// runnerHandler is the Python entrypoint deployed into every sandflow
// function. It executes submitted Python natively and everything else
// through a shell, returning the same stdout/stderr/exitCode shape the
// container backend produces.
const runnerHandler = `import contextlib
import io
import subprocess


def main(event, context):
    code = event.get("code", "")
    language = event.get("language", "python")
    timeout_ms = event.get("timeoutMs") or 0
    timeout = timeout_ms / 1000.0 if timeout_ms else None

    if language == "python":
        stdout, stderr = io.StringIO(), io.StringIO()
        exit_code = 0
        try:
            with contextlib.redirect_stdout(stdout), contextlib.redirect_stderr(stderr):
                exec(code, {})
        except SystemExit as exc:
            exit_code = int(exc.code or 0)
        except BaseException as exc:
            print(exc, file=stderr)
            exit_code = 1
        return {
            "stdout": stdout.getvalue(),
            "stderr": stderr.getvalue(),
            "exitCode": exit_code,
        }

    try:
        proc = subprocess.run(
            ["bash", "-c", code],
            capture_output=True,
            text=True,
            timeout=timeout,
        )
    except subprocess.TimeoutExpired as exc:
        return {
            "stdout": exc.stdout or "",
            "stderr": "execution timed out",
            "exitCode": 124,
        }
    return {
        "stdout": proc.stdout,
        "stderr": proc.stderr,
        "exitCode": proc.returncode,
    }
`

// runnerZip packages the handler into the deployment archive Lambda
// expects.
func runnerZip() ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	f, err := w.Create("handler.py")
	if err != nil {
		return nil, fmt.Errorf("create handler entry: %w", err)
	}
	if _, err := f.Write([]byte(runnerHandler)); err != nil {
		return nil, fmt.Errorf("write handler: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
