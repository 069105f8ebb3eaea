package magicprogram

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// contextPayload is the magic-context account's data shape: a length
// prefix (implicit in JSON array length) around the queued commits
// (spec §4.5 step 1 "if its length prefix is non-zero, deserialize the
// Vec<ScheduledCommit> inside").
type contextPayload struct {
	Commits []ScheduledCommit `json:"commits"`
}

func decodeContext(data []byte) ([]ScheduledCommit, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var payload contextPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload.Commits, nil
}

func encodeContext(commits []ScheduledCommit) ([]byte, error) {
	if len(commits) == 0 {
		return nil, nil
	}
	return json.Marshal(contextPayload{Commits: commits})
}
