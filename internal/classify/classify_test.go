package classify

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/rootsploit/infoauto/internal/cloudrange"
	"github.com/rootsploit/infoauto/internal/config"
	"github.com/rootsploit/infoauto/internal/exec"
	"github.com/rootsploit/infoauto/internal/iprange"
	"github.com/rootsploit/infoauto/internal/store"
	"github.com/rootsploit/infoauto/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keywords = config.DefaultConfig().Tools.CloudKeywords

func TestMatchKeyword(t *testing.T) {
	k, ok := MatchKeyword("47.96.1.1 [中国 浙江 杭州 阿里云]", keywords)
	assert.True(t, ok)
	assert.Equal(t, "阿里云", k)

	k, ok = MatchKeyword("52.1.1.1 [AMAZON-02]", keywords)
	assert.True(t, ok)
	assert.Equal(t, "Amazon", k)

	_, ok = MatchKeyword("202.96.128.86 [中国 广东 广州 电信]", keywords)
	assert.False(t, ok)
}

// fakeNali answers from a table and fails for unknown addresses.
func fakeNali(table map[string]string, calls *atomic.Int32) exec.Runner {
	return func(_ context.Context, name string, args []string, _ *exec.Options) *exec.Result {
		calls.Add(1)
		if out, ok := table[args[0]]; ok {
			return &exec.Result{Stdout: out + "\n"}
		}
		return &exec.Result{ExitCode: 1, Error: errors.New("exit status 1")}
	}
}

func TestDetectors(t *testing.T) {
	ctx := context.Background()

	set, _, err := cloudrange.NewSet(map[string][]string{"aws": {"3.0.0.0/8"}})
	require.NoError(t, err)
	rd := &RangeDetector{Set: set}
	v, err := rd.Detect(ctx, "3.3.3.3")
	require.NoError(t, err)
	assert.Equal(t, Verdict{Cloud: true, Provider: "aws", Source: "ranges"}, v)
	v, _ = rd.Detect(ctx, "8.8.8.8")
	assert.False(t, v.Cloud)

	var calls atomic.Int32
	nd := &NaliDetector{Run: fakeNali(map[string]string{"47.96.1.1": "47.96.1.1 [阿里云]"}, &calls), Keywords: keywords}
	v, err = nd.Detect(ctx, "47.96.1.1")
	require.NoError(t, err)
	assert.True(t, v.Cloud)
	_, err = nd.Detect(ctx, "1.1.1.1")
	assert.Error(t, err)

	ad := &ASNDetector{Keywords: keywords, org: func(ip net.IP) (string, error) {
		if ip.Equal(net.ParseIP("20.1.1.1")) {
			return "MICROSOFT-CORP-MSN-AS-BLOCK Azure", nil
		}
		return "CHINANET-BACKBONE", nil
	}}
	v, err = ad.Detect(ctx, "20.1.1.1")
	require.NoError(t, err)
	assert.True(t, v.Cloud)
	assert.Equal(t, "MICROSOFT-CORP-MSN-AS-BLOCK Azure", v.Provider)
	v, _ = ad.Detect(ctx, "202.96.128.86")
	assert.False(t, v.Cloud)
	_, err = ad.Detect(ctx, "not-an-ip")
	assert.Error(t, err)
	assert.NoError(t, ad.Close())
}

func newClassifier(t *testing.T, st store.Store, calls *atomic.Int32) *Classifier {
	set, _, err := cloudrange.NewSet(map[string][]string{"aws": {"3.0.0.0/8"}})
	require.NoError(t, err)
	nali := map[string]string{
		"47.96.1.1": "47.96.1.1 [中国 浙江 杭州 阿里云]",
		"8.8.8.8":   "8.8.8.8 [美国 加利福尼亚州 圣克拉拉县 山景市 谷歌公司DNS服务器]",
		"8.8.8.100": "8.8.8.100 [美国]",
	}
	return New(st, []Detector{
		&RangeDetector{Set: set},
		&NaliDetector{Run: fakeNali(nali, calls), Keywords: keywords},
	}, Options{Concurrency: 3, Consolidate: iprange.DefaultOptions()})
}

func TestClassifyKeepsOrder(t *testing.T) {
	var calls atomic.Int32
	c := newClassifier(t, storetest.New(t), &calls)

	verdicts, err := c.Classify(context.Background(), []string{"3.3.3.3", "47.96.1.1", "9.9.9.9", "8.8.8.8"})
	require.NoError(t, err)
	require.Len(t, verdicts, 4)
	assert.Equal(t, "aws", verdicts[0].Provider)
	assert.Equal(t, "阿里云", verdicts[1].Provider)
	assert.False(t, verdicts[2].Cloud, "failed lookups count as direct")
	assert.False(t, verdicts[3].Cloud)
	// The range hit never reaches nali.
	assert.Equal(t, int32(3), calls.Load())
}

func TestClassifierRun(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	storetest.Seed(t, st, store.SheetHosts, "3.3.3.3", "47.96.1.1", "8.8.8.100", "8.8.8.104", "9.9.9.9")

	var calls atomic.Int32
	c := newClassifier(t, st, &calls)

	n, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	kinds := storetest.Column(t, st, store.SheetHosts, store.ColKind)
	assert.Equal(t, map[string]string{
		"3.3.3.3":   store.KindCloud,
		"47.96.1.1": store.KindCloud,
		"8.8.8.100": store.KindDirect,
		"8.8.8.104": store.KindDirect,
		"9.9.9.9":   store.KindDirect,
	}, kinds)
	assert.Len(t, storetest.Column(t, st, store.SheetHosts, store.ColClassified), 5)

	targets := storetest.Names(t, st, store.SheetTargets)
	assert.Subset(t, targets, []string{"3.3.3.3", "47.96.1.1", "8.8.8.100", "8.8.8.104", "9.9.9.9"})
	// .100 and .104 cluster; padding 90..114 spans 24, so the /27 at .64
	// is materialized.
	assert.Contains(t, targets, "8.8.8.65")
	assert.Contains(t, targets, "8.8.8.94")
	assert.NotContains(t, targets, "8.8.8.95")
	assert.NotContains(t, targets, "8.8.8.110")

	sources := storetest.Column(t, st, store.SheetTargets, store.ColSource)
	assert.Equal(t, store.SourceCloud, sources["3.3.3.3"])
	assert.Equal(t, store.SourceRange, sources["8.8.8.65"])

	// Nothing new: the stage consumes nothing.
	n, err = c.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
