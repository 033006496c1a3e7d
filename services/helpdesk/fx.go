package helpdesk

import "go.uber.org/fx"

var Module = fx.Module("helpdesk.reader",
	fx.Provide(
		NewStore,
		func(s *Store) Reader { return s },
	),
)
