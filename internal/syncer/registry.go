package syncer

// Scope selects how a table's pull query is restricted to the
// authenticated user's accessible data.
type Scope int

const (
	// ScopeNone pulls the table unfiltered.
	ScopeNone Scope = iota
	// ScopeProjects filters by id against the user's project-id set.
	ScopeProjects
	// ScopeUser filters user_id to the authenticated user.
	ScopeUser
	// ScopeAssignee filters assignee_id to the authenticated user.
	ScopeAssignee
	// ScopeProjectID filters project_id against the user's project-id set.
	ScopeProjectID
	// ScopeRecordID filters record_id against the user's local record ids.
	ScopeRecordID
)

// Table describes one synchronized table: its pull scope, the columns that
// never leave the device, and the field renames applied at the wire
// boundary. The pull and push protocols iterate these descriptors
// generically; there is no per-table code.
type Table struct {
	Name       string
	Scope      Scope
	LocalOnly  []string
	Renames    map[string]string // server column -> local column
	SoftDelete bool              // rows can carry _deleted for push-driven deletion
}

// syncColumns are the local-only control columns on every push table.
var syncColumns = []string{"_dirty", "_deleted", "_retry_count"}

// fileColumns are the extra local-only columns on the upload queue table.
var fileColumns = append([]string{"upload_status", "local_path"}, syncColumns...)

// projectDataRenames maps the server's reserved-word column to its local
// name.
var projectDataRenames = map[string]string{"values": "values_json"}

// PullTables lists every pulled table, in the fixed order used by each
// cycle. The order is stable (parents before children) to minimize
// transient referential gaps, though inserts are insert-or-replace and do
// not require it.
var PullTables = []Table{
	{Name: "projects", Scope: ScopeProjects},
	{Name: "questionnaires", Scope: ScopeProjectID},
	{Name: "questionnaire_assignments", Scope: ScopeUser},
	{Name: "questions", Scope: ScopeProjectID},
	{Name: "project_data", Scope: ScopeProjectID, Renames: projectDataRenames},
	{Name: "categories", Scope: ScopeProjectID},
	{Name: "areas", Scope: ScopeProjectID},
	{Name: "records", Scope: ScopeAssignee, LocalOnly: syncColumns, SoftDelete: true},
	{Name: "record_answers", Scope: ScopeRecordID, LocalOnly: syncColumns, SoftDelete: true},
	{Name: "record_pages", Scope: ScopeRecordID, LocalOnly: syncColumns, SoftDelete: true},
	{Name: "record_notes", Scope: ScopeRecordID, LocalOnly: syncColumns, SoftDelete: true},
	{Name: "record_status_history", Scope: ScopeRecordID, LocalOnly: syncColumns},
}

// PushTables lists every push-eligible table, in fixed order.
var PushTables = []Table{
	{Name: "records", LocalOnly: syncColumns, SoftDelete: true},
	{Name: "record_answers", LocalOnly: syncColumns, SoftDelete: true},
	{Name: "record_pages", LocalOnly: syncColumns, SoftDelete: true},
	{Name: "record_locations", LocalOnly: syncColumns},
	{Name: "record_files", LocalOnly: fileColumns},
	{Name: "record_notes", LocalOnly: syncColumns, SoftDelete: true},
	{Name: "record_status_history", LocalOnly: syncColumns},
}

// PushTableNames returns the push table names in push order.
func PushTableNames() []string {
	names := make([]string, len(PushTables))
	for i, t := range PushTables {
		names[i] = t.Name
	}
	return names
}

// LocalColumn maps a server column name to its local counterpart.
func (t Table) LocalColumn(server string) string {
	if local, ok := t.Renames[server]; ok {
		return local
	}
	return server
}

// ServerColumn maps a local column name back to its wire name.
func (t Table) ServerColumn(local string) string {
	for server, l := range t.Renames {
		if l == local {
			return server
		}
	}
	return local
}

// IsLocalOnly reports whether a column must be stripped from push payloads.
func (t Table) IsLocalOnly(col string) bool {
	for _, c := range t.LocalOnly {
		if c == col {
			return true
		}
	}
	return false
}
