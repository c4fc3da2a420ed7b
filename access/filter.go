/*
filter.go - Visibility predicates

THE RULE:
  Administrator           -> identity (sees every record)
  "Read-only (Own Data)"  -> records whose company matches the caller's
                             company; when either side has no company, fall
                             back to matching the record's creator against
                             the caller
  any other access level  -> identity

These are pure predicates over the caller's cached permission set. They are
re-evaluated on every access; nothing here caches a decision.
*/
package access

// Record is anything the filter can judge. Domain types expose the company
// that owns the record and the user that created it; either may be empty.
type Record interface {
	RecordCompany() string
	RecordCreator() string
}

// Filter returns the subset of records the caller may see for the module.
// The input slice is never mutated.
func Filter[T Record](c Caller, records []T, moduleID ModuleID) []T {
	if c.IsAdministrator() {
		return records
	}
	level, ok := c.Level(moduleID)
	if !ok || level != LevelReadOnlyOwn {
		return records
	}

	out := make([]T, 0, len(records))
	for _, r := range records {
		if ownData(c, r) {
			out = append(out, r)
		}
	}
	return out
}

// CanView answers the single-record visibility question.
// Administrators always see the record.
func CanView(c Caller, r Record, moduleID ModuleID) bool {
	if c.IsAdministrator() {
		return true
	}
	level, ok := c.Level(moduleID)
	if !ok || level != LevelReadOnlyOwn {
		return true
	}
	return ownData(c, r)
}

func ownData(c Caller, r Record) bool {
	company := r.RecordCompany()
	if company == "" || c.CompanyID == "" {
		return r.RecordCreator() == c.UserID
	}
	return company == c.CompanyID
}

// HasModuleAccess reports whether an active permission row exists for the
// caller's role and the module.
func (c Caller) HasModuleAccess(moduleID ModuleID) bool {
	p, ok := c.perms[moduleID]
	return ok && p.Active
}

// HasModuleAccessByName resolves the module through the fixed name->id
// table before checking access. Unknown names never grant access.
func (c Caller) HasModuleAccessByName(name string) bool {
	id, ok := ModuleByName(name)
	if !ok {
		return false
	}
	return c.HasModuleAccess(id)
}
