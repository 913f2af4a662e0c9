// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse/gatehouse/internal/access"
	"github.com/gatehouse/gatehouse/internal/auth"
	authpg "github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/store"
	"github.com/gatehouse/gatehouse/internal/web"
)

// setupPostgres starts a PostgreSQL container and applies migrations.
func setupPostgres() (*pgxpool.Pool, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gatehouse_test"),
		postgres.WithUsername("gatehouse"),
		postgres.WithPassword("gatehouse"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		return nil, nil, err
	}
	if err := migrator.Close(); err != nil {
		return nil, nil, err
	}

	pool, err := store.NewPool(ctx, connStr)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup, nil
}

var _ = Describe("Postgres repositories", func() {
	var pool *pgxpool.Pool
	var cleanup func()
	var ctx context.Context

	BeforeEach(func() {
		var err error
		pool, cleanup, err = setupPostgres()
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("UserRepository", func() {
		It("creates and retrieves users", func() {
			repo := authpg.NewUserRepository(pool)
			user, err := auth.NewUser("user@example.com", "$argon2id$fakehash")
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.Create(ctx, user)).To(Succeed())

			got, err := repo.GetByEmail(ctx, "user@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(user.ID))
			Expect(got.Email).To(Equal("user@example.com"))

			byID, err := repo.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.Email).To(Equal(got.Email))
		})

		It("looks up emails case-insensitively", func() {
			repo := authpg.NewUserRepository(pool)
			user, err := auth.NewUser("Mixed@Example.com", "$argon2id$fakehash")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.Create(ctx, user)).To(Succeed())

			got, err := repo.GetByEmail(ctx, "mixed@example.COM")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(user.ID))
		})

		It("enforces email uniqueness across case", func() {
			repo := authpg.NewUserRepository(pool)
			first, err := auth.NewUser("dup@example.com", "$argon2id$fakehash")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.Create(ctx, first)).To(Succeed())

			second, err := auth.NewUser("DUP@example.com", "$argon2id$otherhash")
			Expect(err).NotTo(HaveOccurred())
			err = repo.Create(ctx, second)
			Expect(errors.Is(err, auth.ErrDuplicateEmail)).To(BeTrue())
		})

		It("lets exactly one concurrent signup win a contested email", func() {
			repo := authpg.NewUserRepository(pool)

			const writers = 8
			results := make(chan error, writers)
			var start sync.WaitGroup
			start.Add(1)
			for i := 0; i < writers; i++ {
				go func() {
					defer GinkgoRecover()
					user, err := auth.NewUser("contested@example.com", "$argon2id$fakehash")
					Expect(err).NotTo(HaveOccurred())
					start.Wait()
					results <- repo.Create(ctx, user)
				}()
			}
			start.Done()

			created, duplicates := 0, 0
			for i := 0; i < writers; i++ {
				switch err := <-results; {
				case err == nil:
					created++
				case errors.Is(err, auth.ErrDuplicateEmail):
					duplicates++
				default:
					Fail("unexpected create error: " + err.Error())
				}
			}
			Expect(created).To(Equal(1))
			Expect(duplicates).To(Equal(writers - 1))
		})

		It("updates the password hash", func() {
			repo := authpg.NewUserRepository(pool)
			user, err := auth.NewUser("rehash@example.com", "$2a$oldhash")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.Create(ctx, user)).To(Succeed())

			err = repo.UpdatePassword(ctx, user.ID, "$argon2id$newhash")
			Expect(err).NotTo(HaveOccurred())

			got, err := repo.GetByID(ctx, user.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(Equal("$argon2id$newhash"))
		})
	})

	Describe("SessionRepository", func() {
		It("round-trips sessions and deletes expired ones", func() {
			users := authpg.NewUserRepository(pool)
			sessions := authpg.NewSessionRepository(pool)

			user, err := auth.NewUser("session@example.com", "$argon2id$fakehash")
			Expect(err).NotTo(HaveOccurred())
			Expect(users.Create(ctx, user)).To(Succeed())

			_, hash, err := auth.GenerateSessionToken()
			Expect(err).NotTo(HaveOccurred())
			csrf, err := auth.GenerateCSRFToken()
			Expect(err).NotTo(HaveOccurred())

			live, err := auth.NewSession(user.ID, hash, csrf, "agent", "127.0.0.1", time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions.Create(ctx, live)).To(Succeed())

			got, err := sessions.GetByTokenHash(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UserID).To(Equal(user.ID))
			Expect(got.CSRFToken).To(Equal(csrf))

			_, expiredHash, err := auth.GenerateSessionToken()
			Expect(err).NotTo(HaveOccurred())
			expired, err := auth.NewSession(user.ID, expiredHash, csrf, "", "", time.Now().Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions.Create(ctx, expired)).To(Succeed())

			n, err := sessions.DeleteExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			_, err = sessions.GetByTokenHash(ctx, expiredHash)
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())

			_, err = sessions.GetByTokenHash(ctx, hash)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})

var _ = Describe("Form login end to end", func() {
	var pool *pgxpool.Pool
	var cleanup func()
	var server *httptest.Server
	var client *http.Client

	BeforeEach(func() {
		var err error
		pool, cleanup, err = setupPostgres()
		Expect(err).NotTo(HaveOccurred())

		users := authpg.NewUserRepository(pool)
		sessions := authpg.NewSessionRepository(pool)
		svc, err := auth.NewService(users, sessions, auth.NewBcryptHasher(bcrypt.MinCost), time.Hour)
		Expect(err).NotTo(HaveOccurred())

		handler, err := web.NewHandler(web.HandlerConfig{
			Auth:   svc,
			Policy: access.MustPolicy(access.DefaultRules()),
		})
		Expect(err).NotTo(HaveOccurred())

		server = httptest.NewServer(handler)
		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		client = &http.Client{Jar: jar}
	})

	AfterEach(func() {
		server.Close()
		cleanup()
	})

	csrfToken := func(formPath string) string {
		resp, err := client.Get(server.URL + formPath)
		Expect(err).NotTo(HaveOccurred())
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		u, err := url.Parse(server.URL)
		Expect(err).NotTo(HaveOccurred())
		for _, c := range client.Jar.Cookies(u) {
			if c.Name == "gatehouse_csrf" {
				return c.Value
			}
		}
		Fail("no csrf cookie issued")
		return ""
	}

	It("signs up, logs in, and reaches a protected page", func() {
		resp, err := client.PostForm(server.URL+"/signup", url.Values{
			"email":      {"journey@example.com"},
			"password":   {"secret1"},
			"csrf_token": {csrfToken("/signup")},
		})
		Expect(err).NotTo(HaveOccurred())
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		Expect(resp.Request.URL.Path).To(Equal("/login"))
		Expect(string(body)).To(ContainSubstring("Account created"))

		resp, err = client.PostForm(server.URL+"/login", url.Values{
			"email":      {"journey@example.com"},
			"password":   {"secret1"},
			"csrf_token": {csrfToken("/login")},
		})
		Expect(err).NotTo(HaveOccurred())
		body, _ = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		Expect(resp.Request.URL.Path).To(Equal("/home"))
		Expect(string(body)).To(ContainSubstring("journey@example.com"))

		resp, err = client.Get(server.URL + "/profile")
		Expect(err).NotTo(HaveOccurred())
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Request.URL.Path).To(Equal("/profile"))
	})

	It("upgrades a legacy bcrypt hash on login", func() {
		// Seed a user with a bcrypt hash while the service writes
		// argon2id for new passwords.
		users := authpg.NewUserRepository(pool)
		sessions := authpg.NewSessionRepository(pool)
		ctx := context.Background()

		legacyHash, err := auth.NewBcryptHasher(bcrypt.MinCost).Hash("secret1")
		Expect(err).NotTo(HaveOccurred())
		user, err := auth.NewUser("legacy@example.com", legacyHash)
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Create(ctx, user)).To(Succeed())

		svc, err := auth.NewService(users, sessions, auth.NewArgon2idHasher(), time.Hour)
		Expect(err).NotTo(HaveOccurred())

		_, _, err = svc.Login(ctx, "legacy@example.com", "secret1", "", "")
		Expect(err).NotTo(HaveOccurred())

		got, err := users.GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(HavePrefix("$argon2id$"))
	})
})
