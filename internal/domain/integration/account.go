package integration

import "strings"

// AccountID identifies one of the seller accounts the engine syncs against.
type AccountID string

// String returns the string representation of AccountID
func (a AccountID) String() string {
	return string(a)
}

// IsValid returns true if the account id is non-blank
func (a AccountID) IsValid() bool {
	return strings.TrimSpace(string(a)) != ""
}

// ResourceClass is a category of API endpoints sharing one rate-limit budget.
type ResourceClass string

const (
	// ResourceClassOrders covers every order-related endpoint
	ResourceClassOrders ResourceClass = "orders"
	// ResourceClassDefault covers all other endpoints
	ResourceClassDefault ResourceClass = "default"
)

// IsValid returns true if the resource class is known
func (c ResourceClass) IsValid() bool {
	switch c {
	case ResourceClassOrders, ResourceClassDefault:
		return true
	default:
		return false
	}
}

// String returns the string representation of ResourceClass
func (c ResourceClass) String() string {
	return string(c)
}

// ResourceClassFor maps a marketplace resource name to its rate-limit class.
func ResourceClassFor(resource string) ResourceClass {
	if strings.HasPrefix(strings.ToLower(resource), "order") {
		return ResourceClassOrders
	}
	return ResourceClassDefault
}

// AllResourceClasses returns every known resource class
func AllResourceClasses() []ResourceClass {
	return []ResourceClass{ResourceClassOrders, ResourceClassDefault}
}
