package config

import (
	"encoding/json"
	"strings"
	"testing"

	"gymsync/internal/source/sheet"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func TestValidateCleanConfig(t *testing.T) {
	issues := Validate(validConfig())
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			t.Errorf("unexpected error issue: %v", iss)
		}
	}
}

func TestValidateMissingJob(t *testing.T) {
	c := validConfig()
	c.Job = "  "
	if !hasIssue(Validate(c), SeverityError, "job", "must not be empty") {
		t.Error("missing job not flagged")
	}
}

func TestValidateAPI(t *testing.T) {
	c := validConfig()
	c.API.BaseURL = ""
	c.API.Token = ""
	c.API.MaxRetries = -1

	issues := Validate(c)
	if !hasIssue(issues, SeverityError, "api.base_url", "must not be empty") {
		t.Error("empty base_url not flagged")
	}
	if !hasIssue(issues, SeverityError, "api.token", "no api token configured") {
		t.Error("missing token not flagged")
	}
	if !hasIssue(issues, SeverityError, "api.max_retries", "negative") {
		t.Error("negative max_retries not flagged")
	}
}

func TestValidateTokenEnvNamesEmptyVariable(t *testing.T) {
	c := validConfig()
	c.API.Token = ""
	c.API.TokenEnv = "GYMSYNC_TEST_DEFINITELY_UNSET"
	if !hasIssue(Validate(c), SeverityError, "api.token", "GYMSYNC_TEST_DEFINITELY_UNSET") {
		t.Error("empty token_env variable not named in issue")
	}
}

func TestValidateStorage(t *testing.T) {
	c := validConfig()
	c.Storage.Kind = "oracle"
	c.Storage.DB.DSN = ""

	issues := Validate(c)
	if !hasIssue(issues, SeverityWarning, "storage.kind", "unknown storage kind") {
		t.Error("unknown kind should warn")
	}
	if !hasIssue(issues, SeverityError, "storage.db.dsn", "no connection string") {
		t.Error("missing DSN not flagged")
	}
}

func TestValidateSchedule(t *testing.T) {
	c := validConfig()
	c.Schedule = "once a day please"
	if !hasIssue(Validate(c), SeverityError, "schedule", "not a valid cron expression") {
		t.Error("bad cron expression not flagged")
	}

	c.Schedule = "0 3 * * *"
	for _, iss := range Validate(c) {
		if iss.Path == "schedule" {
			t.Errorf("valid cron flagged: %v", iss)
		}
	}
}

func TestValidateTableDefinitionErrors(t *testing.T) {
	c := validConfig()
	c.Tables = []json.RawMessage{json.RawMessage(`{
		"name": "Kapot",
		"source": { "kind": "api_array", "endpoint": "x" },
		"strategy": "upsert",
		"keys": ["Ontbreekt"],
		"fields": [ { "path": "id", "column": "Id", "type": "string", "required": true } ]
	}`)}

	issues := Validate(c)
	if !hasIssue(issues, SeverityError, "tables[Kapot]", "key column") {
		t.Errorf("invalid table spec not attributed to its table: %v", issues)
	}
}

func TestValidateSheetTableNeedsSheet(t *testing.T) {
	c := validConfig()
	c.Sheets = nil
	if !hasIssue(Validate(c), SeverityError, "sheets.PersonalTraining", "no sheet with that name") {
		t.Error("sheet-sourced table without sheet config not flagged")
	}

	c = validConfig()
	c.Sheets["PersonalTraining"] = sheet.Config{}
	if !hasIssue(Validate(c), SeverityError, "sheets.PersonalTraining", "url or a path") {
		t.Error("sheet without url or path not flagged")
	}
}
