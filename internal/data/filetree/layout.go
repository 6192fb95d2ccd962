package filetree

import (
	"path"
	"strings"
)

// Tree layout, relative to the adapter root and always slash separated.
const (
	clientsDir       = "clients"
	requisitionsDir  = "requisitions"
	clientInfoFile   = "client_info.yaml"
	requisitionFile  = "requisition.yaml"
	processedDir     = "resumes/processed"
	batchesDir       = "resumes/batches"
	assessmentsDir   = "assessments/individual"
	manifestFile     = "batch_manifest.yaml"
	originalsDir     = "originals"
	extractedDir     = "extracted"
	resumeSuffix     = "_resume.txt"
	profileSuffix    = "_candidate.yaml"
	assessmentSuffix = "_assessment.json"
)

var resumeExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".pdf":  true,
	".doc":  true,
	".docx": true,
}

func clientDir(code string) string {
	return path.Join(clientsDir, code)
}

func clientInfoPath(code string) string {
	return path.Join(clientDir(code), clientInfoFile)
}

func requisitionDir(clientCode, reqID string) string {
	return path.Join(clientDir(clientCode), requisitionsDir, reqID)
}

func requisitionPath(clientCode, reqID string) string {
	return path.Join(requisitionDir(clientCode, reqID), requisitionFile)
}

func batchDir(clientCode, reqID, batch string) string {
	return path.Join(requisitionDir(clientCode, reqID), batchesDir, batch)
}

func processedResumePath(clientCode, reqID, name string) string {
	return path.Join(requisitionDir(clientCode, reqID), processedDir, name+resumeSuffix)
}

func profilePath(clientCode, reqID, name string) string {
	return path.Join(requisitionDir(clientCode, reqID), processedDir, name+profileSuffix)
}

func assessmentPath(clientCode, reqID, name string) string {
	return path.Join(requisitionDir(clientCode, reqID), assessmentsDir, name+assessmentSuffix)
}

func isResumeFile(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, profileSuffix) || lower == manifestFile {
		return false
	}
	return resumeExtensions[path.Ext(lower)]
}
