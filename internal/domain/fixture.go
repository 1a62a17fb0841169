package domain

import "context"

// Fixture installs a known set of objects into the store.
type Fixture interface {
	Name() string
	Install(ctx context.Context, ps PersistenceSession) error
}

type fixtureFunc struct {
	name    string
	install func(context.Context, PersistenceSession) error
}

func (f fixtureFunc) Name() string { return f.name }

func (f fixtureFunc) Install(ctx context.Context, ps PersistenceSession) error {
	return f.install(ctx, ps)
}

// NewFixture adapts a function to a named Fixture.
func NewFixture(name string, install func(context.Context, PersistenceSession) error) Fixture {
	return fixtureFunc{name: name, install: install}
}

// ObjectsFixture installs a fixed list of objects.
func ObjectsFixture(name string, objects ...Object) Fixture {
	return NewFixture(name, func(ctx context.Context, ps PersistenceSession) error {
		for _, o := range objects {
			if _, err := ps.Store(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
}

// DemoFixture is the fixture named "demo", a small claims-processing data set.
func DemoFixture() Fixture {
	return ObjectsFixture("demo",
		Object{ID: "employee-1", Type: "Employee", Title: "Fred Smith", Fields: map[string]string{"approver": "employee-2"}},
		Object{ID: "employee-2", Type: "Employee", Title: "Tom Brown"},
		Object{ID: "claim-1", Type: "Claim", Title: "Meeting at Head Office", Fields: map[string]string{"claimant": "employee-1", "status": "new"}},
		Object{ID: "claim-2", Type: "Claim", Title: "Conference travel", Fields: map[string]string{"claimant": "employee-2", "status": "submitted"}},
	)
}
