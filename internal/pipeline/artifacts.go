package pipeline

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"

	"github.com/lineci/lineci/internal"
	"github.com/lineci/lineci/internal/util"
)

// collectArtifacts copies the script step's artifacts directory out of the
// run's workspace into artifacts/<run-id>/ on this host. Remote runs are
// pulled over sftp; local runs are copied from disk.
func (rq *RunQueue) collectArtifacts(
	runner CommandRunner,
	runID int64,
	artifactsPath string,
) (string, error) {
	if exists, _ := util.PathExists(internal.ArtifactsDir); !exists {
		if err := os.Mkdir(internal.ArtifactsDir, os.ModePerm); err != nil {
			return "", err
		}
	}

	localDir := path.Join(internal.ArtifactsDir, fmt.Sprintf("%d", runID))
	if exists, _ := util.PathExists(localDir); exists {
		return localDir, nil
	}
	if err := os.Mkdir(localDir, os.ModePerm); err != nil {
		return "", err
	}

	switch r := runner.(type) {
	case *SSHRunner:
		sftpClient, err := sftp.NewClient(r.Client())
		if err != nil {
			return "", err
		}
		defer sftpClient.Close()
		remotePath := r.BaseDir() + "/" + artifactsPath
		if err := recursiveDownload(sftpClient, remotePath, path.Join(localDir, artifactsPath)); err != nil {
			return "", err
		}
	case *LocalRunner:
		src := filepath.Join(r.BaseDir, artifactsPath)
		if err := copyTree(src, filepath.Join(localDir, artifactsPath)); err != nil {
			return "", err
		}
	}

	rq.outputCh <- fmt.Sprintf("Collected artifacts into %s\n", localDir)
	return localDir, nil
}

func recursiveDownload(sftpClient *sftp.Client, remotePath, localPath string) error {
	files, err := sftpClient.ReadDir(remotePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(localPath, os.ModePerm); err != nil {
		return err
	}

	for _, f := range files {
		remoteFilePath := path.Join(remotePath, f.Name())
		localFilePath := filepath.Join(localPath, f.Name())

		if f.IsDir() {
			if err := recursiveDownload(
				sftpClient, remoteFilePath, localFilePath,
			); err != nil {
				return err
			}
		} else {
			if err := downloadFile(
				sftpClient, remoteFilePath, localFilePath,
			); err != nil {
				return err
			}
		}
	}

	return nil
}

func downloadFile(sftpClient *sftp.Client, remotePath, localPath string) error {
	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return err
	}
	defer remoteFile.Close()

	localFile, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer localFile.Close()

	if _, err := io.Copy(localFile, remoteFile); err != nil {
		return err
	}

	return nil
}

func copyTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, os.ModePerm); err != nil {
		return err
	}

	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
