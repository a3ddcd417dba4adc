package store_test

import (
	"context"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Zachkp/about-me/internal/store"
	"github.com/Zachkp/about-me/internal/views"
)

var _ = Describe("RedisStore", func() {
	const prefix = "test:views:"

	var (
		mr      *miniredis.Miniredis
		backend store.Backend
	)

	open := func() store.Backend {
		return store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), prefix)
	}

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		backend = open()
	})

	AfterEach(func() {
		backend.Close()
		mr.Close()
	})

	itBehavesLikeALedgerStore(&backend, open)

	It("should keep the total and visitors under the prefix", func() {
		_, err := backend.Update(context.Background(), addVisitor("10.0.0.1"))
		Expect(err).NotTo(HaveOccurred())

		total, err := mr.Get(prefix + "total")
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal("1"))

		members, err := mr.Members(prefix + "visitors")
		Expect(err).NotTo(HaveOccurred())
		Expect(members).To(ConsistOf("10.0.0.1"))
	})

	It("should report a non-numeric total as malformed and keep it", func() {
		Expect(mr.Set(prefix+"total", "lots")).To(Succeed())

		_, err := backend.Update(context.Background(), addVisitor("a"))
		Expect(errors.Is(err, views.ErrMalformedLedger)).To(BeTrue())

		total, _ := mr.Get(prefix + "total")
		Expect(total).To(Equal("lots"))
	})

	It("should report a visitor key of the wrong type as malformed", func() {
		Expect(mr.Set(prefix+"visitors", "oops")).To(Succeed())

		_, err := backend.Load(context.Background())
		Expect(errors.Is(err, views.ErrMalformedLedger)).To(BeTrue())
	})

	It("should retry when another client changes the ledger mid-update", func() {
		ctx := context.Background()
		other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer other.Close()
		Expect(backend.Ensure(ctx)).To(Succeed())

		attempts := 0
		l, err := backend.Update(ctx, func(l *views.Ledger) (bool, error) {
			attempts++
			if attempts == 1 {
				Expect(other.Set(ctx, prefix+"total", 5, 0).Err()).To(Succeed())
			}
			return addVisitor("a")(l)
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(Equal(2))
		Expect(l.TotalViews).To(Equal(uint64(6)))

		total, err := mr.Get(prefix + "total")
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal("6"))
	})

	It("should report an unreachable server as unavailable", func() {
		dead := store.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:       "127.0.0.1:1",
			MaxRetries: -1,
		}), prefix)
		defer dead.Close()

		_, err := dead.Load(context.Background())
		Expect(errors.Is(err, views.ErrStorageUnavailable)).To(BeTrue())
		Expect(dead.Ping(context.Background())).NotTo(Succeed())
	})
})
