// Package nut is a client for the Network UPS Tools line protocol spoken by
// upsd.
//
// A Session owns one connection. Scalar requests go through Query, which
// sends "GET <tokens>" and expects an answer one token longer than the
// request. Multi-row requests go through QueryList, which returns a List
// that reads rows lazily until the server sends "END LIST".
//
//	s := nut.New("localhost", nut.DefaultPort)
//	if err := s.Connect(ctx); err != nil {
//		return err
//	}
//	defer s.Close()
//
//	ups, err := s.ListUPS(ctx)
//	if err != nil {
//		return err
//	}
//	charge, err := ups[0].Charge(ctx)
//
// Failures are *Error values classified into a closed set of kinds. Branch on
// them with errors.Is against the kind sentinels:
//
//	if errors.Is(err, nut.ErrAuthentication) {
//		// prompt for credentials
//	}
package nut
