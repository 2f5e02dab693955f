package sqlinline

const QInsertGeneration = `--sql 488eabfc-7e95-42e8-8814-c0189ed906a3
insert into generations (
    id, job_id, engine, preset, status, error_code, seed, stage2b,
    fidelity_verdict, fidelity_max_diff, audio, frame_count, fps,
    duration_ms, cost_usd, created_at
)
values (
    $1::uuid, nullif($2::text, ''), $3::text, $4::text, $5::text, nullif($6::text, ''), $7::bigint, $8::text,
    nullif($9::text, ''), $10::double precision, $11::text, $12::int, $13::int,
    $14::bigint, $15::numeric, $16::timestamptz
);
`

const QGenerationStats = `--sql 7f70e750-b475-4f75-b03a-a6d474eb28fc
select
    engine,
    count(*) as total,
    count(*) filter (where status = 'succeeded') as succeeded,
    count(*) filter (where status = 'failed') as failed,
    coalesce(sum(cost_usd), 0)::double precision as cost_usd,
    coalesce(avg(duration_ms) filter (where status = 'succeeded'), 0)::double precision as avg_duration_ms
from generations
where created_at >= $1::timestamptz
group by engine
order by engine;
`

const QRecentGenerations = `--sql 52c98452-5901-4d6a-b2ad-d71a1ac55cd6
select
    id::text, coalesce(job_id, ''), engine, preset, status, coalesce(error_code, ''),
    seed, stage2b, coalesce(fidelity_verdict, ''), fidelity_max_diff, audio,
    frame_count, fps, duration_ms, cost_usd::double precision, created_at
from generations
order by created_at desc
limit $1::int;
`
