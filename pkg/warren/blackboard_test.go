package warren

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paddedKey struct {
	A uint8
	B uint64
}

// setupBlackboard creates a two-entry blackboard keyed by uint32: entry 0
// holds a uint64 starting at 42, entry 1 a zero-initialized uint8.
func setupBlackboard(t *testing.T) (*Node, *BlackboardFactory[uint32]) {
	t.Helper()
	node := setupNode(t)
	creator := NewBlackboardCreator[uint32](node, "vehicle-state").
		MaxReaders(4).
		MaxWriters(2)
	AddEntry(creator, uint32(0), uint64(42))
	AddEntryWithDefault[uint8](creator, uint32(1))
	f, err := creator.Create()
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return node, f
}

func TestBlackboardCreate(t *testing.T) {
	node, f := setupBlackboard(t)

	assert.Equal(t, "vehicle-state", f.Name())
	assert.NotEmpty(t, f.ID())
	require.NotNil(t, f.StaticConfig().Blackboard)
	assert.Len(t, f.StaticConfig().Blackboard.Entries, 2)

	exists, err := DoesExist(node, "vehicle-state", MessagingPatternBlackboard)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBlackboardCreateRejectsEmptySchema(t *testing.T) {
	node := setupNode(t)
	_, err := NewBlackboardCreator[uint32](node, "empty").Create()
	assert.ErrorIs(t, err, ErrNoEntriesProvided)
}

func TestBlackboardKeyTypeChecks(t *testing.T) {
	node := setupNode(t)

	t.Run("padded key types are rejected", func(t *testing.T) {
		creator := NewBlackboardCreator[paddedKey](node, "padded")
		AddEntry(creator, paddedKey{A: 1, B: 2}, uint64(0))
		_, err := creator.Create()
		assert.ErrorIs(t, err, ErrInvalidTypeDetail)
	})

	t.Run("pointer-bearing key types are rejected", func(t *testing.T) {
		_, err := NewBlackboardCreator[string](node, "stringy").Create()
		assert.ErrorIs(t, err, ErrInvalidTypeDetail)
	})
}

func TestBlackboardDuplicateKeyPoisonsService(t *testing.T) {
	node := setupNode(t)

	creator := NewBlackboardCreator[uint32](node, "dup")
	AddEntry(creator, uint32(7), uint64(1))
	AddEntry(creator, uint32(7), uint64(2))
	_, err := creator.Create()
	assert.ErrorIs(t, err, ErrServiceInCorruptedState)

	good := NewBlackboardCreator[uint32](node, "dup")
	AddEntry(good, uint32(7), uint64(1))
	_, err = good.Create()
	assert.ErrorIs(t, err, ErrServiceInCorruptedState, "the name stays poisoned")

	require.NoError(t, PurgeService(node, serviceIDFor("dup", MessagingPatternBlackboard)))

	f, err := good.Create()
	require.NoError(t, err, "a purge clears the poisoned name")
	assert.NoError(t, f.Close())
}

func TestBlackboardReadWrite(t *testing.T) {
	_, f := setupBlackboard(t)

	reader, err := f.Reader().Create()
	require.NoError(t, err)
	defer reader.Close()
	writer, err := f.Writer().Create()
	require.NoError(t, err)
	defer writer.Close()

	entry, err := Entry[uint64](reader, uint32(0))
	require.NoError(t, err)
	defer entry.Close()

	assert.Equal(t, uint64(42), entry.Get())

	val, gen := entry.GetWithGeneration()
	assert.Equal(t, uint64(42), val)
	assert.Equal(t, uint64(0), gen)
	assert.True(t, entry.IsUpToDate(gen))

	mut, err := EntryMut[uint64](writer, uint32(0))
	require.NoError(t, err)
	require.NoError(t, mut.UpdateWithCopy(1000))
	require.NoError(t, mut.Close())

	assert.False(t, entry.IsUpToDate(gen))
	val, gen = entry.GetWithGeneration()
	assert.Equal(t, uint64(1000), val)
	assert.Equal(t, uint64(1), gen)

	t.Run("default-initialized entry reads zero", func(t *testing.T) {
		byteEntry, err := Entry[uint8](reader, uint32(1))
		require.NoError(t, err)
		defer byteEntry.Close()
		assert.Equal(t, uint8(0), byteEntry.Get())
	})
}

func TestBlackboardKeysUpdateIndependently(t *testing.T) {
	_, f := setupBlackboard(t)

	writer, err := f.Writer().Create()
	require.NoError(t, err)
	defer writer.Close()
	reader, err := f.Reader().Create()
	require.NoError(t, err)
	defer reader.Close()

	wordMut, err := EntryMut[uint64](writer, uint32(0))
	require.NoError(t, err)
	defer wordMut.Close()
	byteMut, err := EntryMut[uint8](writer, uint32(1))
	require.NoError(t, err)
	defer byteMut.Close()

	require.NoError(t, wordMut.UpdateWithCopy(2008))
	require.NoError(t, byteMut.UpdateWithCopy(11))

	word, err := Entry[uint64](reader, uint32(0))
	require.NoError(t, err)
	defer word.Close()
	octet, err := Entry[uint8](reader, uint32(1))
	require.NoError(t, err)
	defer octet.Close()

	assert.Equal(t, uint64(2008), word.Get())
	assert.Equal(t, uint8(11), octet.Get())

	// Each key carries its own generation counter.
	require.NoError(t, wordMut.UpdateWithCopy(2009))
	_, wordGen := word.GetWithGeneration()
	_, octetGen := octet.GetWithGeneration()
	assert.Equal(t, uint64(2), wordGen)
	assert.Equal(t, uint64(1), octetGen)
}

func TestBlackboardLoanChain(t *testing.T) {
	_, f := setupBlackboard(t)

	reader, err := f.Reader().Create()
	require.NoError(t, err)
	defer reader.Close()
	writer, err := f.Writer().Create()
	require.NoError(t, err)
	defer writer.Close()

	entry, err := Entry[uint64](reader, uint32(0))
	require.NoError(t, err)
	defer entry.Close()

	mut, err := EntryMut[uint64](writer, uint32(0))
	require.NoError(t, err)

	loan, err := mut.LoanUninit()
	require.NoError(t, err)

	_, err = mut.LoanUninit()
	assert.ErrorIs(t, err, ErrPortClosed, "the handle was consumed by the loan")
	assert.NoError(t, mut.Close(), "closing a consumed handle is a no-op")

	staged := loan.Write(7777)
	require.NotNil(t, staged)
	assert.Equal(t, uint64(42), entry.Get(), "unpublished writes stay invisible")

	mut = staged.Update()
	require.NotNil(t, mut)
	assert.Equal(t, uint64(7777), entry.Get())

	t.Run("discarding an uninitialized loan changes nothing", func(t *testing.T) {
		loan, err := mut.LoanUninit()
		require.NoError(t, err)
		*loan.Payload() = 1
		mut = loan.Discard()
		require.NotNil(t, mut)
		assert.Equal(t, uint64(7777), entry.Get())
	})

	t.Run("discarding a written loan changes nothing", func(t *testing.T) {
		loan, err := mut.LoanUninit()
		require.NoError(t, err)
		staged := loan.Write(8888)
		require.NotNil(t, staged)
		mut = staged.Discard()
		require.NotNil(t, mut)
		assert.Equal(t, uint64(7777), entry.Get())
	})

	require.NoError(t, mut.Close())
}

func TestBlackboardEntryLookup(t *testing.T) {
	_, f := setupBlackboard(t)

	reader, err := f.Reader().Create()
	require.NoError(t, err)
	defer reader.Close()

	t.Run("unknown key", func(t *testing.T) {
		_, err := Entry[uint64](reader, uint32(99))
		assert.ErrorIs(t, err, ErrEntryDoesNotExist)
	})

	t.Run("mismatched value type", func(t *testing.T) {
		_, err := Entry[uint32](reader, uint32(0))
		assert.ErrorIs(t, err, ErrEntryDoesNotExist, "entry 0 holds a uint64")
	})
}

func TestBlackboardWriterExclusivity(t *testing.T) {
	_, f := setupBlackboard(t)

	w1, err := f.Writer().Create()
	require.NoError(t, err)
	defer w1.Close()
	w2, err := f.Writer().Create()
	require.NoError(t, err)
	defer w2.Close()

	m1, err := EntryMut[uint64](w1, uint32(0))
	require.NoError(t, err)

	_, err = EntryMut[uint64](w2, uint32(0))
	assert.ErrorIs(t, err, ErrHandleAlreadyExists, "one mutable handle per entry")

	other, err := EntryMut[uint8](w2, uint32(1))
	require.NoError(t, err, "other entries stay independent")
	require.NoError(t, other.Close())

	require.NoError(t, m1.Close())
	m2, err := EntryMut[uint64](w2, uint32(0))
	require.NoError(t, err, "closing the handle frees the entry")
	require.NoError(t, m2.Close())
}

func TestBlackboardWriterCap(t *testing.T) {
	node := setupNode(t)

	creator := NewBlackboardCreator[uint32](node, "single-writer")
	AddEntry(creator, uint32(0), uint64(0))
	f, err := creator.Create()
	require.NoError(t, err)
	defer f.Close()

	w1, err := f.Writer().Create()
	require.NoError(t, err)

	_, err = f.Writer().Create()
	assert.ErrorIs(t, err, ErrExceedsMaxSupportedWriters)

	require.NoError(t, w1.Close())
	w2, err := f.Writer().Create()
	require.NoError(t, err, "the released slot is claimable again")
	require.NoError(t, w2.Close())
}

func TestBlackboardOpenChecks(t *testing.T) {
	node, f := setupBlackboard(t)

	t.Run("compatible opener attaches", func(t *testing.T) {
		opened, err := NewBlackboardOpener[uint32](node, "vehicle-state").
			RequiredReaders(2).
			RequiredWriters(1).
			Open()
		require.NoError(t, err)
		assert.Equal(t, f.ID(), opened.ID())
		assert.NoError(t, opened.Close())
	})

	t.Run("wrong key type", func(t *testing.T) {
		_, err := NewBlackboardOpener[uint64](node, "vehicle-state").Open()
		assert.ErrorIs(t, err, ErrIncompatibleKeyType)
	})

	t.Run("padded key type", func(t *testing.T) {
		_, err := NewBlackboardOpener[paddedKey](node, "vehicle-state").Open()
		assert.ErrorIs(t, err, ErrInvalidTypeDetail)
	})

	t.Run("excessive reader requirement", func(t *testing.T) {
		_, err := NewBlackboardOpener[uint32](node, "vehicle-state").
			RequiredReaders(64).
			Open()
		assert.ErrorIs(t, err, ErrDoesNotSupportRequestedAmountOfReaders)
	})

	t.Run("excessive writer requirement", func(t *testing.T) {
		_, err := NewBlackboardOpener[uint32](node, "vehicle-state").
			RequiredWriters(64).
			Open()
		assert.ErrorIs(t, err, ErrDoesNotSupportRequestedAmountOfWriters)
	})
}

func TestBlackboardPortListing(t *testing.T) {
	node, f := setupBlackboard(t)

	reader, err := f.Reader().Create()
	require.NoError(t, err)
	defer reader.Close()
	writer, err := f.Writer().Create()
	require.NoError(t, err)
	defer writer.Close()

	assert.Equal(t, 1, f.NumberOfReaders())
	assert.Equal(t, 1, f.NumberOfWriters())
	assert.Equal(t, 1, f.NumberOfNodes())

	var readers []PortDetails
	f.ListReaders(func(d PortDetails) bool {
		readers = append(readers, d)
		return true
	})
	require.Len(t, readers, 1)
	assert.Equal(t, reader.ID(), readers[0].PortID)
	assert.Equal(t, node.ID(), readers[0].NodeID)

	t.Run("visitor can stop early", func(t *testing.T) {
		second, err := f.Reader().Create()
		require.NoError(t, err)
		defer second.Close()

		seen := 0
		f.ListReaders(func(PortDetails) bool {
			seen++
			return false
		})
		assert.Equal(t, 1, seen)
	})
}

func TestBlackboardHandlesOutlivePorts(t *testing.T) {
	node := setupNode(t)

	creator := NewBlackboardCreator[uint32](node, "durable")
	AddEntry(creator, uint32(0), uint64(9))
	f, err := creator.Create()
	require.NoError(t, err)

	reader, err := f.Reader().Create()
	require.NoError(t, err)
	writer, err := f.Writer().Create()
	require.NoError(t, err)

	entry, err := Entry[uint64](reader, uint32(0))
	require.NoError(t, err)
	mut, err := EntryMut[uint64](writer, uint32(0))
	require.NoError(t, err)

	require.NoError(t, reader.Close())
	require.NoError(t, writer.Close())
	require.NoError(t, f.Close())

	_, err = Entry[uint64](reader, uint32(0))
	assert.ErrorIs(t, err, ErrPortClosed, "closed ports hand out no new handles")

	require.NoError(t, mut.UpdateWithCopy(10))
	assert.Equal(t, uint64(10), entry.Get(), "handles keep working on their own")

	exists, err := DoesExist(node, "durable", MessagingPatternBlackboard)
	require.NoError(t, err)
	assert.True(t, exists, "handles keep the service alive")

	require.NoError(t, mut.Close())
	require.NoError(t, entry.Close())

	exists, err = DoesExist(node, "durable", MessagingPatternBlackboard)
	require.NoError(t, err)
	assert.False(t, exists)
}
