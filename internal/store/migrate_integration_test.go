// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authd Contributors

//go:build integration

package store_test

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/oruchinenye/authd/internal/store"
)

var _ = Describe("PostgreSQL schema", Ordered, func() {
	var (
		ctx      context.Context
		connStr  string
		pool     *pgxpool.Pool
		migrator *store.Migrator
	)

	BeforeAll(func() {
		ctx = suiteCtx
		connStr = suiteConnStr
		var err error
		pool, err = store.Open(ctx, connStr, store.Options{})
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			Expect(migrator.Close()).To(Succeed())
		}
		if pool != nil {
			pool.Close()
		}
	})

	It("starts at version zero with everything pending", func() {
		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(BeZero())
		Expect(st.Applied).To(BeEmpty())
		Expect(st.Pending).To(HaveLen(2))
	})

	It("applies all migrations", func() {
		Expect(migrator.Up()).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
		Expect(dirty).To(BeFalse())

		Expect(migrator.Up()).To(Succeed(), "re-running Up is a no-op")
	})

	It("enforces unique emails", func() {
		insert := `INSERT INTO users (id, full_name, email, password_hash) VALUES ($1, 'A', 'a@example.com', 'h')`
		_, err := pool.Exec(ctx, insert, "01HZZZZZZZZZZZZZZZZZZZZZZ1")
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, insert, "01HZZZZZZZZZZZZZZZZZZZZZZ2")
		Expect(err).To(MatchError(ContainSubstring("users_email_key")))
	})

	It("cascades user deletion to reset tokens", func() {
		_, err := pool.Exec(ctx, `
			INSERT INTO password_resets (id, user_id, token_hash, expires_at)
			VALUES ('r1', '01HZZZZZZZZZZZZZZZZZZZZZZ1', 'hash', now() + interval '1 hour')
		`)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, `DELETE FROM users WHERE id = '01HZZZZZZZZZZZZZZZZZZZZZZ1'`)
		Expect(err).NotTo(HaveOccurred())

		var n int
		Expect(pool.QueryRow(ctx, `SELECT count(*) FROM password_resets`).Scan(&n)).To(Succeed())
		Expect(n).To(BeZero())
	})

	It("steps down and back up", func() {
		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))

		Expect(migrator.Steps(1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(2)))
	})

	It("rolls everything back", func() {
		Expect(migrator.Down()).To(Succeed())
		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(BeZero())
		Expect(st.Dirty).To(BeFalse())
	})

	It("reports readiness", func() {
		Expect(store.Ready(pool, time.Second)()).To(BeTrue())
	})
})
