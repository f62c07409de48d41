package executor

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/featurehub-ai/platform/pkg/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "FEATUREHUB_EXECUTOR_HELPER"

// TestMain doubles as the worker binary when re-executed by ProcessRunner tests.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "serve":
		if err := ServeWorker(context.Background(), os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		os.Exit(0)
	case "crash":
		fmt.Fprintln(os.Stderr, "worker ran out of memory")
		os.Exit(3)
	case "garbage":
		fmt.Fprint(os.Stdout, "this is not json")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperRunner(mode string, timeout time.Duration) *ProcessRunner {
	r := NewProcessRunner(os.Args[0], Limits{Timeout: timeout}, 0)
	r.Env = append(os.Environ(), helperEnv+"="+mode)
	return r
}

func testDataset() *dataset.Dataset {
	return dataset.New(
		&dataset.Table{Name: "users", Columns: []dataset.Column{
			{Name: "id", Values: []dataset.Value{dataset.Number(1), dataset.Number(2), dataset.Number(3)}},
			{Name: "age", Values: []dataset.Value{dataset.Number(31), dataset.Missing(), dataset.Number(18.5)}},
			{Name: "country", Values: []dataset.Value{dataset.String("US"), dataset.String("FR"), dataset.String("US")}},
		}},
	)
}

const ageFeature = `
def age_or_zero(dataset):
    out = []
    for a in dataset["users"]["age"]:
        out.append(a if a != None else 0)
    return out
`

func TestInlineRunsEntryPoint(t *testing.T) {
	r := NewInlineRunner(Limits{Timeout: 5 * time.Second})
	res, err := r.Run(context.Background(), Feature{Source: ageFeature}, testDataset())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{31.0, 0.0, 18.5}, res.Values)
	assert.Equal(t, dataset.Fingerprint(testDataset()), res.Fingerprint)
	assert.NotZero(t, res.Steps)
}

func TestEntryPointIgnoresHelpers(t *testing.T) {
	src := `
def is_us(c):
    return 1 if c == "US" else 0

def us_flag(dataset):
    return [[is_us(c)] for c in dataset["users"]["country"]]
`
	r := NewInlineRunner(Limits{Timeout: 5 * time.Second})
	res, err := r.Run(context.Background(), Feature{Source: src}, testDataset())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{[]interface{}{1.0}, []interface{}{0.0}, []interface{}{1.0}}, res.Values)
}

func TestAmbiguousEntryPointIsCompileFault(t *testing.T) {
	src := "def a(dataset):\n    return []\n\ndef b(dataset):\n    return []\n"
	_, err := NewInlineRunner(Limits{}).Run(context.Background(), Feature{Source: src}, testDataset())
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, FaultCompile, fault.Kind)
	assert.Contains(t, fault.Message, "found 2")
}

func TestEntryPointArity(t *testing.T) {
	src := "def f(dataset, extra):\n    return []\n"
	_, err := NewInlineRunner(Limits{}).Run(context.Background(), Feature{Source: src}, testDataset())
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, FaultCompile, fault.Kind)
}

func TestSyntaxErrorIsCompileFault(t *testing.T) {
	_, err := NewInlineRunner(Limits{}).Run(context.Background(), Feature{Source: "def f(dataset)\n  return 1\n"}, testDataset())
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, FaultCompile, fault.Kind)
}

func TestRuntimeErrorCarriesTrace(t *testing.T) {
	src := "def f(dataset):\n    return dataset[\"missing_table\"]\n"
	_, err := NewInlineRunner(Limits{}).Run(context.Background(), Feature{Source: src}, testDataset())
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, FaultRuntime, fault.Kind)
	assert.Contains(t, fault.Message, "missing_table")
	assert.Contains(t, fault.Trace, "feature.star")
}

func TestImportsMustBeDeclared(t *testing.T) {
	src := "load(\"math\", \"math\")\n\ndef f(dataset):\n    return [math.log(1 + x) for x in dataset[\"users\"][\"id\"]]\n"
	r := NewInlineRunner(Limits{})

	_, err := r.Run(context.Background(), Feature{Source: src}, testDataset())
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Contains(t, fault.Message, "not permitted")

	res, err := r.Run(context.Background(), Feature{Source: src, Imports: []string{"math"}}, testDataset())
	require.NoError(t, err)
	assert.Len(t, res.Values, 3)

	_, err = r.Run(context.Background(), Feature{Source: src, Imports: []string{"os"}}, testDataset())
	fault, ok = AsFault(err)
	require.True(t, ok)
	assert.Equal(t, FaultCompile, fault.Kind)
}

func TestMutationChangesReportedFingerprint(t *testing.T) {
	src := `
def f(dataset):
    ages = dataset["users"]["age"]
    ages[1] = 99
    return [1, 2, 3]
`
	ds := testDataset()
	before := dataset.Fingerprint(ds)
	res, err := NewInlineRunner(Limits{}).Run(context.Background(), Feature{Source: src}, ds)
	require.NoError(t, err)
	assert.NotEqual(t, before, res.Fingerprint)
	assert.Equal(t, before, dataset.Fingerprint(ds), "caller's dataset must not be aliased")
}

func TestInlineTimeout(t *testing.T) {
	src := "def f(dataset):\n    while True:\n        pass\n"
	limit := 200 * time.Millisecond
	start := time.Now()
	_, err := NewInlineRunner(Limits{Timeout: limit}).Run(context.Background(), Feature{Source: src}, testDataset())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), limit+2*time.Second)
}

const whileFeature = `
def double(x):
    return 2 * x

def doubled_ids(dataset):
    ids = dataset["users"]["id"]
    out = []
    i = 0
    while i < len(ids):
        out.append(double(ids[i]))
        i += 1
    return out
`

func TestWhileLoopFeatureRuns(t *testing.T) {
	res, err := NewInlineRunner(Limits{Timeout: 5 * time.Second}).Run(context.Background(), Feature{Source: whileFeature}, testDataset())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{2.0, 4.0, 6.0}, res.Values)

	res, err = helperRunner("serve", 30*time.Second).Run(context.Background(), Feature{Source: whileFeature}, testDataset())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{2.0, 4.0, 6.0}, res.Values)
}

func TestEntryPointSeesReferencesInEveryStatement(t *testing.T) {
	src := `
def a(x):
    return x

def b(x):
    return x

def c(x):
    return x

def entry(dataset):
    out = []
    i = 0
    while i < 1:
        if a(i):
            pass
        i += 1
    f = lambda v: b(v)
    return [c(v) for v in dataset["users"]["id"] if f(v)]
`
	file, err := fileOptions.Parse(sourceFilename, src, 0)
	require.NoError(t, err)
	entry, err := entryPoint(file)
	require.NoError(t, err)
	assert.Equal(t, "entry", entry)
}

func TestMaxSteps(t *testing.T) {
	src := "def f(dataset):\n    while True:\n        pass\n"
	_, err := NewInlineRunner(Limits{Timeout: 10 * time.Second, MaxSteps: 10000}).Run(context.Background(), Feature{Source: src}, testDataset())
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, FaultRuntime, fault.Kind)
}

func TestUnsupportedReturnValue(t *testing.T) {
	src := "def f(dataset):\n    return f\n"
	_, err := NewInlineRunner(Limits{}).Run(context.Background(), Feature{Source: src}, testDataset())
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, FaultResult, fault.Kind)
}

func TestNonFiniteBecomesNil(t *testing.T) {
	src := "def f(dataset):\n    return [float(\"nan\"), 1.0]\n"
	res, err := NewInlineRunner(Limits{}).Run(context.Background(), Feature{Source: src}, testDataset())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{nil, 1.0}, res.Values)
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", ContentHash(""))
	f := Feature{Source: ageFeature}
	assert.Equal(t, ContentHash(ageFeature), f.Hash())
}

func TestProcessRunnerMatchesInline(t *testing.T) {
	ds := testDataset()
	inline, err := NewInlineRunner(Limits{}).Run(context.Background(), Feature{Source: ageFeature}, ds)
	require.NoError(t, err)

	res, err := helperRunner("serve", 30*time.Second).Run(context.Background(), Feature{Source: ageFeature}, ds)
	require.NoError(t, err)
	assert.Equal(t, inline.Values, res.Values)
	assert.Equal(t, inline.Fingerprint, res.Fingerprint)
}

func TestProcessRunnerReturnsWorkerFault(t *testing.T) {
	src := "def f(dataset):\n    return 1 // 0\n"
	_, err := helperRunner("serve", 30*time.Second).Run(context.Background(), Feature{Source: src}, testDataset())
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, FaultRuntime, fault.Kind)
	assert.NotEmpty(t, fault.Trace)
}

func TestProcessRunnerTimeoutKillsWorker(t *testing.T) {
	src := "def f(dataset):\n    while True:\n        pass\n"
	limit := 500 * time.Millisecond
	start := time.Now()
	_, err := helperRunner("serve", limit).Run(context.Background(), Feature{Source: src}, testDataset())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), limit+3*time.Second)
}

func TestProcessRunnerCrash(t *testing.T) {
	_, err := helperRunner("crash", 10*time.Second).Run(context.Background(), Feature{Source: ageFeature}, testDataset())
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, FaultCrash, fault.Kind)
	assert.Contains(t, fault.Trace, "out of memory")
}

func TestProcessRunnerMalformedOutput(t *testing.T) {
	_, err := helperRunner("garbage", 10*time.Second).Run(context.Background(), Feature{Source: ageFeature}, testDataset())
	fault, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, FaultCrash, fault.Kind)
}

func TestProcessRunnerMissingBinaryIsInfrastructureError(t *testing.T) {
	r := NewProcessRunner("/nonexistent/feature-worker", Limits{Timeout: time.Second}, 0)
	_, err := r.Run(context.Background(), Feature{Source: ageFeature}, testDataset())
	require.Error(t, err)
	_, isFault := AsFault(err)
	assert.False(t, isFault)
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", b.String())
	assert.True(t, b.truncated)
}
