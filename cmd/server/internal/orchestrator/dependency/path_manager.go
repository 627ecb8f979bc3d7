package dependency

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathManager lays out the per-job working directories:
//
//	{workDir}/jobs/{job_id}/
//	  source.<ext>          acquired media
//	  audio_16k_mono.wav    transcoded asset
//	  chunk_0000.wav ...    chunk files
//
// Every file of a job lives in its job directory so cleanup is one RemoveAll.
type PathManager struct {
	baseDir string
}

// NewPathManager creates a new PathManager instance.
func NewPathManager(baseDir string) *PathManager {
	return &PathManager{baseDir: baseDir}
}

// BaseDir returns the root of all job directories.
func (pm *PathManager) BaseDir() string {
	return pm.baseDir
}

// JobDir returns the working directory of a job.
func (pm *PathManager) JobDir(jobID string) string {
	return filepath.Join(pm.baseDir, "jobs", jobID)
}

// TranscodedPath returns where the 16 kHz mono WAV of a job is written.
func (pm *PathManager) TranscodedPath(jobID string) string {
	return filepath.Join(pm.JobDir(jobID), "audio_16k_mono.wav")
}

// ChunkBasename generates the base name for chunk files.
// Example: ChunkBasename(15) -> "chunk_0015"
func ChunkBasename(chunkIndex int) string {
	return fmt.Sprintf("chunk_%04d", chunkIndex)
}

// ChunkAudioPath returns the WAV path of chunk chunkIndex inside dir.
func ChunkAudioPath(dir string, chunkIndex int) string {
	return filepath.Join(dir, ChunkBasename(chunkIndex)+".wav")
}

// ValidatePath checks that path stays inside the base directory and does not
// reach into system directories or through symlinks.
func (pm *PathManager) ValidatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains dangerous characters '..'")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBaseDir, err := filepath.Abs(pm.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if absPath != absBaseDir && !strings.HasPrefix(absPath, absBaseDir+string(filepath.Separator)) {
		return fmt.Errorf("path %s is outside work dir (%s)", path, pm.baseDir)
	}

	for _, prefix := range []string{"/etc", "/sys", "/proc", "/dev"} {
		if absPath == prefix || strings.HasPrefix(absPath, prefix+"/") {
			return fmt.Errorf("access to system directory %s is forbidden", prefix)
		}
	}

	info, err := os.Lstat(path)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("symbolic links are not allowed")
	}
	return nil
}

// EnsureJobDir creates the job directory if it doesn't exist.
func (pm *PathManager) EnsureJobDir(jobID string) (string, error) {
	dir := pm.JobDir(jobID)
	if err := pm.ValidatePath(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	return dir, nil
}

// RemoveJobDir deletes a job directory and everything in it.
func (pm *PathManager) RemoveJobDir(jobID string) error {
	dir := pm.JobDir(jobID)
	if err := pm.ValidatePath(dir); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
