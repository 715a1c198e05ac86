package watcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// TeamFile is the config.json the CLI maintains for a team.
type TeamFile struct {
	Name    string       `json:"name"`
	Members []MemberFile `json:"members"`
}

// MemberFile is one entry of TeamFile.Members.
type MemberFile struct {
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"`
	Model     string `json:"model,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// TaskFile is one task JSON file the CLI writes per team.
type TaskFile struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	AssignedTo  string   `json:"assignedTo,omitempty"`
	Owner       string   `json:"owner,omitempty"`
	BlockedBy   []string `json:"blockedBy,omitempty"`
	Blocks      []string `json:"blocks,omitempty"`
}

// Assignee returns the member name the task belongs to.
func (t TaskFile) Assignee() string {
	if t.AssignedTo != "" {
		return t.AssignedTo
	}
	return t.Owner
}

const teamFileSchema = `{
  "type": "object",
  "required": ["members"],
  "properties": {
    "name": {"type": "string"},
    "members": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "role": {"type": "string"},
          "model": {"type": "string"},
          "sessionId": {"type": "string"}
        }
      }
    }
  }
}`

const taskFileSchema = `{
  "type": "object",
  "required": ["id", "subject", "status"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "subject": {"type": "string"},
    "description": {"type": "string"},
    "status": {"type": "string"},
    "assignedTo": {"type": "string"},
    "owner": {"type": "string"},
    "blockedBy": {"type": "array", "items": {"type": "string"}},
    "blocks": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	teamSchema = mustCompile(teamFileSchema)
	taskSchema = mustCompile(taskFileSchema)
)

func mustCompile(src string) *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(src))
	if err != nil {
		panic(fmt.Sprintf("watcher: compile schema: %v", err))
	}
	return schema
}

// decode validates raw against schema before unmarshalling it into v.
func decode(schema *jsonschema.Schema, raw []byte, v any) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if result := schema.Validate(doc); !result.IsValid() {
		return fmt.Errorf("schema validation failed")
	}
	return json.Unmarshal(raw, v)
}

// ParseTeamFile decodes and validates a team config document.
func ParseTeamFile(raw []byte) (*TeamFile, error) {
	var tf TeamFile
	if err := decode(teamSchema, raw, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// ParseTaskFile decodes and validates a task document.
func ParseTaskFile(raw []byte) (*TaskFile, error) {
	var tf TaskFile
	if err := decode(taskSchema, raw, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// ReadTeamConfig reads {teamsDir}/{teamName}/config.json. It returns nil
// when the file is missing or invalid.
func ReadTeamConfig(teamsDir, teamName string) *TeamFile {
	raw, err := os.ReadFile(filepath.Join(teamsDir, teamName, "config.json"))
	if err != nil {
		return nil
	}
	tf, err := ParseTeamFile(raw)
	if err != nil {
		return nil
	}
	return tf
}

// ReadTeamTasks reads every *.json file under {tasksDir}/{teamID}, skipping
// files that fail to parse. Results are ordered by file name.
func ReadTeamTasks(tasksDir, teamID string) []*TaskFile {
	dir := filepath.Join(tasksDir, teamID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var tasks []*TaskFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		tf, err := ParseTaskFile(raw)
		if err != nil {
			continue
		}
		tasks = append(tasks, tf)
	}
	return tasks
}
