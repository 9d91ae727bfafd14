package perm

// PermissionMap associates actions with the requirements that must all pass.
// Actions absent from the map are denied, as are actions mapped to an empty
// list.
type PermissionMap map[Action][]PermDef

// Lookup returns the requirements for action.
func (m PermissionMap) Lookup(action Action) ([]PermDef, bool) {
	defs, ok := m[action]
	return defs, ok
}

// With returns a copy of m with action mapped to defs.
func (m PermissionMap) With(action Action, defs ...PermDef) PermissionMap {
	out := make(PermissionMap, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[action] = defs
	return out
}

// MergeMaps concatenates the requirements of each map per action, so every
// requirement from every map must pass.
func MergeMaps(maps ...PermissionMap) PermissionMap {
	out := PermissionMap{}
	for _, m := range maps {
		for action, defs := range m {
			out[action] = append(append([]PermDef{}, out[action]...), defs...)
		}
	}
	return out
}

// Policy holds the two permission maps for a type. A check must pass the
// global map and, unless skipped for creation, the object map.
type Policy struct {
	Global PermissionMap
	Object PermissionMap
}

// ObjectPolicy leaves global checks unrestricted.
func ObjectPolicy(object PermissionMap) Policy {
	return Policy{Global: PolicyNoRestriction(), Object: object}
}

func each(defs ...PermDef) PermissionMap {
	m := PermissionMap{}
	for _, a := range StandardActions() {
		m[a] = defs
	}
	return m
}

// PolicyNoRestriction allows every standard action. Use it for the phase that
// should not impede the other.
func PolicyNoRestriction() PermissionMap {
	return each(AllowAll)
}

// PolicyNoRestrictionIfAuthenticated allows every standard action to any
// authenticated user.
func PolicyNoRestrictionIfAuthenticated() PermissionMap {
	return each(IsAuthenticated)
}

// PolicyDenyAll denies every standard action.
func PolicyDenyAll() PermissionMap {
	return each()
}

// PolicyPublicReadOnly allows reads to everyone and denies writes.
func PolicyPublicReadOnly() PermissionMap {
	return PermissionMap{
		ActionCreate:        DenyAll(),
		ActionList:          {AllowAll},
		ActionRetrieve:      {AllowAll},
		ActionUpdate:        DenyAll(),
		ActionPartialUpdate: DenyAll(),
		ActionDestroy:       DenyAll(),
	}
}

// PolicyListIfAuthenticated allows listing to authenticated users and nothing
// else.
func PolicyListIfAuthenticated() PermissionMap {
	return PolicyDenyAll().With(ActionList, IsAuthenticated)
}

// PolicyDefaultNoCreate requires object codes for reads and writes and denies
// creation.
func PolicyDefaultNoCreate() PermissionMap {
	return PolicyDefaultAllowCreate().With(ActionCreate, DenyAll()...)
}

// PolicyDefaultAllowCreate requires object codes for reads and writes and
// leaves creation unrestricted.
func PolicyDefaultAllowCreate() PermissionMap {
	return PermissionMap{
		ActionCreate:        {AllowAll},
		ActionList:          {IsAuthenticated},
		ActionRetrieve:      {P(CodeView)},
		ActionUpdate:        {P(CodeChange)},
		ActionPartialUpdate: {P(CodeChange)},
		ActionDestroy:       {P(CodeDelete)},
	}
}

// PolicyDefaultGlobal requires type-level codes, similar to plain model
// permissions without object scoping.
func PolicyDefaultGlobal() PermissionMap {
	return PermissionMap{
		ActionCreate:        {P(CodeAdd)},
		ActionList:          {P(CodeView)},
		ActionRetrieve:      {P(CodeView)},
		ActionUpdate:        {P(CodeChange)},
		ActionPartialUpdate: {P(CodeChange)},
		ActionDestroy:       {P(CodeDelete)},
	}
}

// SimpleDomainOwnedPolicy checks "view" or "change" on the owning domain found
// at path.
func SimpleDomainOwnedPolicy(path string) PermissionMap {
	view := P(CodeView).On(path)
	change := P(CodeChange).On(path)
	return PermissionMap{
		ActionCreate:        {change},
		ActionList:          {view},
		ActionRetrieve:      {view},
		ActionUpdate:        {change},
		ActionPartialUpdate: {change},
		ActionDestroy:       {change},
	}
}

// DomainOwnedPolicy is like SimpleDomainOwnedPolicy but uses the "add_on" and
// "change_on" codes for writes.
func DomainOwnedPolicy(path string) PermissionMap {
	view := P(CodeView).On(path)
	changeOn := P(CodeChangeOn).On(path)
	return PermissionMap{
		ActionCreate:        {P(CodeAddOn).On(path)},
		ActionList:          {view},
		ActionRetrieve:      {view},
		ActionUpdate:        {changeOn},
		ActionPartialUpdate: {changeOn},
		ActionDestroy:       {changeOn},
	}
}

// DomainMemberPolicy is for records joining a user to a domain. Reads and
// writes require codes on both the domain at domainPath and the user at
// "user".
func DomainMemberPolicy(domainPath string) PermissionMap {
	read := AllOf(P(CodeView).On(domainPath), P(CodeView).On("user"))
	write := AllOf(P(CodeChangeOn).On(domainPath), P(CodeChange).On("user"))
	return PermissionMap{
		ActionCreate:        DenyAll(),
		ActionList:          DenyAll(),
		ActionRetrieve:      {read},
		ActionUpdate:        {write},
		ActionPartialUpdate: {write},
		ActionDestroy:       DenyAll(),
	}
}
